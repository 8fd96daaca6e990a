// Package batch is the Batch Job aggregate: N variants over M items, their
// results, progress and per-variant export manifests.
package batch

import (
	"math"
	"slices"
	"sync"
	"time"

	"clipmill/internal/manifest"
	"clipmill/internal/pipeline"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ItemError is the per-pair diagnostic a caller needs to retry just the
// failed subset.
type ItemError struct {
	Variant    int    `json:"variant"`
	Ordinal    int    `json:"ordinal"`
	ItemID     string `json:"item_id"`
	SourceName string `json:"source_name"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	Attempts   int    `json:"attempts"`
}

// Snapshot is a deep copy of a job's state, safe to hand to other goroutines.
type Snapshot struct {
	ID         string              `json:"job_id"`
	Status     Status              `json:"status"`
	Progress   int                 `json:"progress"`
	Completed  int                 `json:"completed"`
	Total      int                 `json:"total"`
	Items      int                 `json:"items"`
	Options    Options             `json:"options"`
	Results    []pipeline.Result   `json:"results"`
	Errors     []ItemError         `json:"errors"`
	Manifests  []manifest.Manifest `json:"manifests,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// Job is mutated only by the goroutines running it; readers use Snapshot.
type Job struct {
	ID string

	items []pipeline.Item
	opts  Options
	now   func() time.Time

	// notifyMu serializes mutation+notification so hooks observe snapshots
	// in mutation order.
	notifyMu sync.Mutex
	hooks    []func(Snapshot)

	mu         sync.RWMutex
	status     Status
	buckets    map[int][]pipeline.Result
	failures   []pipeline.Result
	completed  int
	total      int
	progress   int
	manifests  []manifest.Manifest
	errMsg     string
	createdAt  time.Time
	updatedAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

// NewJob creates a queued job. opts must already be validated.
func NewJob(id string, items []pipeline.Item, opts Options, now func() time.Time) *Job {
	if now == nil {
		now = time.Now
	}
	ts := now()
	return &Job{
		ID:        id,
		items:     slices.Clone(items),
		opts:      opts,
		now:       now,
		status:    StatusQueued,
		buckets:   make(map[int][]pipeline.Result, opts.VariantCount),
		total:     len(items) * max(opts.VariantCount, 1),
		createdAt: ts,
		updatedAt: ts,
		done:      make(chan struct{}),
	}
}

func (j *Job) Items() []pipeline.Item { return j.items }
func (j *Job) Options() Options        { return j.opts }

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// FinishedAt is zero until the job is terminal.
func (j *Job) FinishedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finishedAt
}

// OnChange registers a hook called with a fresh snapshot after every
// transition and every recorded result. Register hooks before the job runs.
func (j *Job) OnChange(fn func(Snapshot)) {
	j.notifyMu.Lock()
	j.hooks = append(j.hooks, fn)
	j.notifyMu.Unlock()
}

// mutate applies fn under the state lock and then notifies hooks. fn returns
// false to signal that nothing changed.
func (j *Job) mutate(fn func() bool) {
	j.notifyMu.Lock()
	defer j.notifyMu.Unlock()

	j.mu.Lock()
	changed := fn()
	if changed {
		j.updatedAt = j.now()
	}
	var snap Snapshot
	if changed && len(j.hooks) > 0 {
		snap = j.snapshotLocked()
	}
	j.mu.Unlock()

	if !changed {
		return
	}
	for _, h := range j.hooks {
		h(snap)
	}
}

func (j *Job) start() {
	j.mutate(func() bool {
		if j.status != StatusQueued {
			return false
		}
		j.status = StatusProcessing
		j.startedAt = j.now()
		return true
	})
}

func (j *Job) record(res pipeline.Result) {
	j.mutate(func() bool {
		if j.status.Terminal() {
			return false
		}
		if res.OK() {
			j.buckets[res.Variant] = append(j.buckets[res.Variant], res)
		} else {
			j.failures = append(j.failures, res)
		}
		j.completed++
		if p := int(math.Round(float64(j.completed) * 100 / float64(j.total))); p > j.progress {
			j.progress = p
		}
		return true
	})
}

// bucket returns a copy of the successes of one variant.
func (j *Job) bucket(variant int) []pipeline.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.buckets[variant])
}

func (j *Job) finish(manifests []manifest.Manifest) {
	j.mutate(func() bool {
		if j.status.Terminal() {
			return false
		}
		j.manifests = manifests
		j.status = StatusError
		for _, b := range j.buckets {
			if len(b) > 0 {
				j.status = StatusDone
				break
			}
		}
		if j.status == StatusError && j.errMsg == "" {
			j.errMsg = "no item succeeded"
		}
		j.finishedAt = j.now()
		close(j.done)
		return true
	})
}

// MarkCrashed moves a job that has not reached a terminal state to error.
// It reports whether the transition happened.
func (j *Job) MarkCrashed(reason string) bool {
	var moved bool
	j.mutate(func() bool {
		if j.status.Terminal() {
			return false
		}
		j.status = StatusError
		j.errMsg = reason
		j.finishedAt = j.now()
		close(j.done)
		moved = true
		return true
	})
	return moved
}

func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:        j.ID,
		Status:    j.status,
		Progress:  j.progress,
		Completed: j.completed,
		Total:     j.total,
		Items:     len(j.items),
		Options:   j.opts,
		Error:     j.errMsg,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
		Results:   []pipeline.Result{},
		Errors:    []ItemError{},
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}

	for v := 1; v <= j.opts.VariantCount; v++ {
		for _, r := range j.buckets[v] {
			r.Hashtags = slices.Clone(r.Hashtags)
			s.Results = append(s.Results, r)
		}
	}
	slices.SortStableFunc(s.Results, byVariantOrdinal)

	for _, f := range j.failures {
		s.Errors = append(s.Errors, ItemError{
			Variant:    f.Variant,
			Ordinal:    f.Ordinal,
			ItemID:     f.ItemID,
			SourceName: f.SourceName,
			Stage:      f.Failure.Stage,
			Message:    f.Failure.Message,
			Attempts:   f.Attempts,
		})
	}
	slices.SortStableFunc(s.Errors, func(a, b ItemError) int {
		if a.Variant != b.Variant {
			return a.Variant - b.Variant
		}
		return a.Ordinal - b.Ordinal
	})

	for _, m := range j.manifests {
		m.Rows = slices.Clone(m.Rows)
		s.Manifests = append(s.Manifests, m)
	}
	return s
}

func byVariantOrdinal(a, b pipeline.Result) int {
	if a.Variant != b.Variant {
		return a.Variant - b.Variant
	}
	return a.Ordinal - b.Ordinal
}

// Successes counts successful pairs in the snapshot.
func (s Snapshot) Successes() int { return len(s.Results) }

// Manifest returns the manifest of a variant.
func (s Snapshot) Manifest(variant int) (manifest.Manifest, bool) {
	for _, m := range s.Manifests {
		if m.Variant == variant {
			return m, true
		}
	}
	return manifest.Manifest{}, false
}
