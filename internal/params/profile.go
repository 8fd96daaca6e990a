package params

import (
	"strings"
	"time"

	"clipmill/internal/pkg/errors"
)

// Profile bounds every derived value. Ranges are chosen so that the output is
// indistinguishable to a viewer while the encoded bytes differ per copy.
type Profile struct {
	Name string

	ContrastMin, ContrastMax float64
	BrightnessSpan           float64 // +/- around 0
	SaturationMax            float64 // [1, SaturationMax]
	GainSpan                 float64 // +/- around 1

	CRFs    []int
	Presets []string

	MaxPad             time.Duration // split between start and end
	MaxTimestampOffset time.Duration
}

// Standard is the only transform level currently defined.
var Standard = Profile{
	Name:               "standard",
	ContrastMin:        1.006,
	ContrastMax:        1.018,
	BrightnessSpan:     0.012,
	SaturationMax:      1.02,
	GainSpan:           0.01,
	CRFs:               []int{20, 21, 22, 23},
	Presets:            []string{"veryfast", "faster", "fast"},
	MaxPad:             250 * time.Millisecond,
	MaxTimestampOffset: 30 * 24 * time.Hour,
}

// LookupProfile resolves the "level" submission option.
func LookupProfile(level string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "1", "standard":
		return Standard, nil
	default:
		return Profile{}, errors.ValidationField("level", "unknown transform level: "+level)
	}
}
