package pipeline

import (
	"time"

	"clipmill/internal/content"
	"clipmill/internal/params"
)

// Stage labels used in failure records.
const (
	StageFetch     = "fetch"
	StageTransform = "transform"
	StagePublish   = "publish"
)

// Item is one admitted input. Exactly one of Data (synchronous upload) or
// ObjectKey (reference into storage) carries the source.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Ordinal     int    `json:"ordinal"`
	Data        []byte `json:"-"`
	ObjectKey   string `json:"object_key,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Resident reports whether the source bytes are already in memory.
func (it Item) Resident() bool { return it.Data != nil }

// Task is one (item, variant) pair ready to run.
type Task struct {
	JobID      string
	Item       Item
	Variant    int
	Params     params.Params
	Assignment content.Assignment
	// Attempt is 1-based; it namespaces the temp workspace of retries.
	Attempt int
}

// Failure is the structured failure record of one pair.
type Failure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Result is the outcome of one pair. Failure is nil on success.
type Result struct {
	Variant        int      `json:"variant"`
	Ordinal        int      `json:"ordinal"`
	ItemID         string   `json:"item_id"`
	SourceName     string   `json:"source_name"`
	DestinationURL string   `json:"destination_url,omitempty"`
	ObjectKey      string   `json:"object_key,omitempty"`
	Caption        string   `json:"caption"`
	Hashtags       []string `json:"hashtags"`
	Attempts       int      `json:"attempts"`
	Failure        *Failure `json:"failure,omitempty"`
}

func (r Result) OK() bool { return r.Failure == nil }

// Timeouts bound each stage independently.
type Timeouts struct {
	Fetch     time.Duration
	Transform time.Duration
	Publish   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Fetch:     120 * time.Second,
		Transform: 240 * time.Second,
		Publish:   180 * time.Second,
	}
}
