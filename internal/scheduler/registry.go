package scheduler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"clipmill/internal/batch"
)

// Registry maps job ids to jobs. Terminal jobs are evicted ttl after they
// finished; a zero ttl keeps them for the life of the process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*batch.Job
	ttl  time.Duration
	now  func() time.Time
}

func NewRegistry(ttl time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{jobs: make(map[string]*batch.Job), ttl: ttl, now: now}
}

func (r *Registry) Put(job *batch.Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*batch.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// List returns snapshots, newest first.
func (r *Registry) List() []batch.Snapshot {
	r.mu.RLock()
	jobs := make([]*batch.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]batch.Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	slices.SortFunc(out, func(a, b batch.Snapshot) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Sweep evicts expired terminal jobs and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		fin := j.FinishedAt()
		if !fin.IsZero() && !fin.After(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration, onSweep func(evicted int)) {
	if interval <= 0 || r.ttl <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
