// Package scheduler admits batch jobs, queues them FIFO and dispatches them
// under the concurrency limiter.
package scheduler

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/errors"
	"clipmill/internal/pkg/logger"

	"github.com/google/uuid"
)

// Executor runs one job to a terminal state. *batch.Runner satisfies it.
type Executor interface {
	NewJob(id string, items []pipeline.Item, opts batch.Options) *batch.Job
	Run(ctx context.Context, job *batch.Job)
}

type Config struct {
	MaxConcurrentJobs int
	Limits            batch.Limits
	JobTTL            time.Duration
	NewID             func() string
	Now               func() time.Time
	Log               *logger.Logger
}

type Scheduler struct {
	exec     Executor
	limiter  *Limiter
	registry *Registry
	limits   batch.Limits
	newID    func() string
	log      *logger.Logger

	// mu guards the queue and serializes every slot hand-off.
	mu      sync.Mutex
	queue   []*batch.Job
	closed  bool
	running sync.WaitGroup

	hooksMu sync.RWMutex
	hooks   []func(batch.Snapshot)
}

func New(exec Executor, cfg Config) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Scheduler{
		exec:     exec,
		limiter:  NewLimiter(cfg.MaxConcurrentJobs),
		registry: NewRegistry(cfg.JobTTL, cfg.Now),
		limits:   cfg.Limits,
		newID:    cfg.NewID,
		log:      cfg.Log.WithComponent("scheduler"),
	}
}

func (s *Scheduler) Registry() *Registry { return s.registry }
func (s *Scheduler) Limiter() *Limiter   { return s.limiter }

// Observe registers fn on every job admitted afterwards. fn receives a
// snapshot after each state change; it runs on the job's goroutines.
func (s *Scheduler) Observe(fn func(batch.Snapshot)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

func (s *Scheduler) admit(items []pipeline.Item, opts batch.Options) (*batch.Job, error) {
	items = slices.Clone(items)
	if err := batch.Validate(items, &opts, s.limits); err != nil {
		return nil, err
	}
	job := s.exec.NewJob(s.newID(), items, opts)

	s.hooksMu.RLock()
	for _, h := range s.hooks {
		job.OnChange(h)
	}
	s.hooksMu.RUnlock()
	return job, nil
}

// Submit runs a batch synchronously and returns its final snapshot. It does
// not queue: when no slot is free, or queued jobs are still waiting for one,
// it fails with a BUSY error.
func (s *Scheduler) Submit(ctx context.Context, items []pipeline.Item, opts batch.Options) (batch.Snapshot, error) {
	if s.isClosed() {
		return batch.Snapshot{}, errors.Unavailable("scheduler")
	}
	job, err := s.admit(items, opts)
	if err != nil {
		return batch.Snapshot{}, err
	}
	if err := s.acquireDirect(); err != nil {
		return batch.Snapshot{}, err
	}

	s.registry.Put(job)
	s.log.FromContext(ctx).Info("job admitted", "job_id", job.ID, "mode", "sync", "items", len(items))
	s.start(ctx, job)

	select {
	case <-job.Done():
		return job.Snapshot(), nil
	case <-ctx.Done():
		// the job keeps running; its id is in the snapshot for polling
		return job.Snapshot(), ctx.Err()
	}
}

// SubmitByReference queues a batch of stored objects and returns its id
// immediately.
func (s *Scheduler) SubmitByReference(ctx context.Context, paths []string, opts batch.Options) (string, error) {
	if s.isClosed() {
		return "", errors.Unavailable("scheduler")
	}
	job, err := s.admit(batch.ItemsFromPaths(paths), opts)
	if err != nil {
		return "", err
	}

	s.registry.Put(job)
	s.enqueue(ctx, job)
	s.log.FromContext(ctx).Info("job queued", "job_id", job.ID, "items", len(paths), "depth", s.QueueDepth())
	return job.ID, nil
}

func (s *Scheduler) enqueue(ctx context.Context, job *batch.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, job)
	s.dispatchLocked(ctx)
}

// acquireDirect takes a slot for a synchronous job. Queued jobs keep
// priority over it: both this check and finish run under mu.
func (s *Scheduler) acquireDirect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errors.Unavailable("scheduler")
	case len(s.queue) > 0 || !s.limiter.TryAcquire():
		return errors.Busy(s.limiter.InFlight(), s.limiter.Max())
	}
	return nil
}

// finish frees a job's slot and hands it to the head of the queue in the
// same critical section.
func (s *Scheduler) finish(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter.Release()
	s.dispatchLocked(ctx)
}

// dispatchLocked starts queued jobs in FIFO order while the limiter grants
// slots. When it denies, the next finish picks up. Callers hold mu.
func (s *Scheduler) dispatchLocked(ctx context.Context) {
	for len(s.queue) > 0 && !s.closed {
		if !s.limiter.TryAcquire() {
			return
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.start(ctx, job)
	}
}

// start runs job on its own goroutine. finish releases the slot and starts
// the next queued job on every exit path, including a panic inside the job.
func (s *Scheduler) start(ctx context.Context, job *batch.Job) {
	// Jobs outlive the request that submitted them.
	jctx := logger.ContextWithJobID(context.WithoutCancel(ctx), job.ID)
	log := s.log.WithJobID(job.ID)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			if rec := recover(); rec != nil {
				err := errors.Crash(job.ID, rec)
				log.Error("job crashed", "error", err.Message, "stack", string(debug.Stack()))
				job.MarkCrashed(err.Message)
			}
			s.finish(jctx)
		}()

		s.exec.Run(jctx, job)
		if job.MarkCrashed("job ended without reaching a terminal state") {
			log.Error("executor returned early")
		}
	}()
}

// Status returns the snapshot of a registered job.
func (s *Scheduler) Status(id string) (batch.Snapshot, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return batch.Snapshot{}, errors.NotFound("job", id)
	}
	return job.Snapshot(), nil
}

func (s *Scheduler) Jobs() []batch.Snapshot { return s.registry.List() }

func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops admission, fails jobs that never started and waits for
// running jobs until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, job := range pending {
		job.MarkCrashed("shutdown before start")
	}
	if len(pending) > 0 {
		s.log.Warn("dropped queued jobs on shutdown", "count", len(pending))
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started job has returned.
func (s *Scheduler) Wait() { s.running.Wait() }
