// Package params derives the per-copy transform parameters. A bundle is a
// pure function of (salt, global ordinal): the same ordinal always yields the
// same bundle for a given deriver, and distinct ordinals yield distinct bundles.
package params

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// Params is one transform parameter bundle.
type Params struct {
	Ordinal int

	Contrast   float64
	Brightness float64
	Saturation float64

	CRF    int
	Preset string

	PadStartMs int
	PadEndMs   int

	AudioGain     float64
	AudioHighpass bool

	TimestampOffset time.Duration
}

// Deriver maps global ordinals to parameter bundles.
type Deriver struct {
	profile Profile
	salt    uint64
}

// NewDeriver returns a deriver with a random per-process salt.
func NewDeriver(p Profile) *Deriver {
	return NewSeededDeriver(p, rand.Uint64())
}

// NewSeededDeriver fixes the salt, making bundles reproducible across runs.
func NewSeededDeriver(p Profile, salt uint64) *Deriver {
	return &Deriver{profile: p, salt: salt}
}

func (d *Deriver) Profile() Profile { return d.profile }

// GlobalOrdinal flattens (variant, item) into the ordinal used for derivation
// and content assignment. variant is 1-based, itemOrdinal 0-based.
func GlobalOrdinal(variant, poolSize, itemOrdinal int) int {
	return (variant-1)*poolSize + itemOrdinal
}

// Derive returns the bundle for ordinal.
func (d *Deriver) Derive(ordinal int) Params {
	p := d.profile
	r := rand.New(rand.NewPCG(splitmix(uint64(ordinal)), splitmix(d.salt^uint64(ordinal))))

	out := Params{
		Ordinal:       ordinal,
		Contrast:      between(r, p.ContrastMin, p.ContrastMax),
		Brightness:    between(r, -p.BrightnessSpan, p.BrightnessSpan),
		Saturation:    between(r, 1, p.SaturationMax),
		AudioGain:     between(r, 1-p.GainSpan, 1+p.GainSpan),
		AudioHighpass: r.IntN(2) == 1,
	}
	if len(p.CRFs) > 0 {
		out.CRF = p.CRFs[r.IntN(len(p.CRFs))]
	}
	if len(p.Presets) > 0 {
		out.Preset = p.Presets[r.IntN(len(p.Presets))]
	}

	if maxPad := int(p.MaxPad / time.Millisecond); maxPad > 0 {
		total := r.IntN(maxPad + 1)
		out.PadStartMs = r.IntN(total + 1)
		out.PadEndMs = total - out.PadStartMs
	}
	if p.MaxTimestampOffset > 0 {
		secs := int64(p.MaxTimestampOffset / time.Second)
		out.TimestampOffset = time.Duration(r.Int64N(secs+1)) * time.Second
	}
	return out
}

func between(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// splitmix is the SplitMix64 finalizer; it spreads adjacent ordinals across
// the whole seed space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// VideoFilter renders the ffmpeg -vf chain.
func (p Params) VideoFilter() string {
	parts := []string{
		fmt.Sprintf("eq=contrast=%.5f:brightness=%.5f:saturation=%.5f", p.Contrast, p.Brightness, p.Saturation),
	}
	if p.PadStartMs > 0 || p.PadEndMs > 0 {
		parts = append(parts, fmt.Sprintf(
			"tpad=start_duration=%.3f:stop_duration=%.3f:start_mode=clone:stop_mode=clone",
			float64(p.PadStartMs)/1000, float64(p.PadEndMs)/1000,
		))
	}
	parts = append(parts, "format=yuv420p")
	return strings.Join(parts, ",")
}

// AudioFilter renders the ffmpeg -af chain.
func (p Params) AudioFilter() string {
	parts := []string{fmt.Sprintf("volume=%.5f", p.AudioGain)}
	if p.PadStartMs > 0 {
		parts = append(parts, fmt.Sprintf("adelay=%d:all=1", p.PadStartMs))
	}
	if p.PadEndMs > 0 {
		parts = append(parts, fmt.Sprintf("apad=pad_dur=%.3f", float64(p.PadEndMs)/1000))
	}
	if p.AudioHighpass {
		parts = append(parts, "highpass=f=30")
	}
	return strings.Join(parts, ",")
}

// CreationTime is the synthetic creation_time metadata value.
func (p Params) CreationTime(base time.Time) string {
	return base.Add(-p.TimestampOffset).UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Key is an exact textual fingerprint of the bundle.
func (p Params) Key() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return strings.Join([]string{
		f(p.Contrast), f(p.Brightness), f(p.Saturation),
		strconv.Itoa(p.CRF), p.Preset,
		strconv.Itoa(p.PadStartMs), strconv.Itoa(p.PadEndMs),
		f(p.AudioGain), strconv.FormatBool(p.AudioHighpass),
		p.TimestampOffset.String(),
	}, "|")
}
