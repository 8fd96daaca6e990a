package batch

import (
	"fmt"
	"path"
	"strings"
	"time"

	"clipmill/internal/manifest"
	"clipmill/internal/params"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/errors"
)

// Options are the recognized submission options.
type Options struct {
	VariantCount   int             `json:"variant_count"`
	NoCaption      bool            `json:"no_caption"`
	Theme          string          `json:"theme,omitempty"`
	Level          string          `json:"level,omitempty"`
	ManifestFormat manifest.Format `json:"manifest_format,omitempty"`

	// Scheduling metadata for the scheduler manifest format.
	ScheduleStart           time.Time `json:"schedule_start,omitzero"`
	ScheduleIntervalMinutes int       `json:"schedule_interval_minutes,omitempty"`
	AccountPrefix           string    `json:"account_prefix,omitempty"`
}

// Account names the destination account of a variant.
func (o Options) Account(variant int) string {
	return fmt.Sprintf("%s%d", o.AccountPrefix, variant)
}

// PublishAt spaces rows of a manifest by the schedule interval. Zero when no
// schedule was requested.
func (o Options) PublishAt(row int) time.Time {
	if o.ScheduleStart.IsZero() {
		return time.Time{}
	}
	return o.ScheduleStart.Add(time.Duration(row*o.ScheduleIntervalMinutes) * time.Minute)
}

// Limits bound what a single submission may ask for.
type Limits struct {
	MaxVariants int
	MaxItems    int
}

// Validate rejects a submission before admission and fills option defaults.
// It also renumbers items[i].Ordinal to i, the item's position in the pool,
// so pass a copy when the caller still owns the slice.
func Validate(items []pipeline.Item, opts *Options, limits Limits) error {
	if len(items) == 0 {
		return errors.ValidationField("items", "at least one item is required")
	}
	if limits.MaxItems > 0 && len(items) > limits.MaxItems {
		return errors.ValidationField("items", fmt.Sprintf("too many items: %d (max %d)", len(items), limits.MaxItems))
	}

	for i := range items {
		items[i].Ordinal = i
		it := items[i]
		if it.Resident() {
			if len(it.Data) == 0 {
				return errors.ValidationField("items", fmt.Sprintf("item %d is empty", i))
			}
			continue
		}
		if err := validateReference(it.ObjectKey); err != nil {
			return errors.ValidationField("paths", fmt.Sprintf("item %d: %s", i, err))
		}
	}

	if opts.VariantCount == 0 {
		opts.VariantCount = 1
	}
	if opts.VariantCount < 1 {
		return errors.ValidationField("variant_count", "must be >= 1")
	}
	if limits.MaxVariants > 0 && opts.VariantCount > limits.MaxVariants {
		return errors.ValidationField("variant_count", fmt.Sprintf("must be <= %d", limits.MaxVariants))
	}

	if _, err := params.LookupProfile(opts.Level); err != nil {
		return err
	}
	format, err := manifest.ParseFormat(string(opts.ManifestFormat))
	if err != nil {
		return err
	}
	opts.ManifestFormat = format

	if opts.ScheduleIntervalMinutes < 0 {
		return errors.ValidationField("schedule_interval_minutes", "must be >= 0")
	}
	if !opts.ScheduleStart.IsZero() && opts.ScheduleIntervalMinutes == 0 {
		opts.ScheduleIntervalMinutes = 60
	}
	if opts.AccountPrefix == "" {
		opts.AccountPrefix = "account-"
	}
	return nil
}

func validateReference(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("invalid path %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid path %q", key)
		}
	}
	return nil
}

// ItemsFromPaths builds reference items in pool order.
func ItemsFromPaths(paths []string) []pipeline.Item {
	items := make([]pipeline.Item, len(paths))
	for i, p := range paths {
		p = strings.TrimSpace(p)
		items[i] = pipeline.Item{
			ID:        fmt.Sprintf("item-%d", i),
			Name:      path.Base(p),
			Ordinal:   i,
			ObjectKey: p,
		}
	}
	return items
}
