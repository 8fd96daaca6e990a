package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/content"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/errors"
	"clipmill/internal/pkg/logger"
)

// gate blocks every pipeline run until opened.
type gate struct {
	open chan struct{}
	once sync.Once
}

func newGate() *gate { return &gate{open: make(chan struct{})} }

func (g *gate) release() { g.once.Do(func() { close(g.open) }) }

func (g *gate) Run(ctx context.Context, task pipeline.Task) pipeline.Result {
	<-g.open
	return pipeline.Result{
		Variant:        task.Variant,
		Ordinal:        task.Item.Ordinal,
		SourceName:     task.Item.Name,
		DestinationURL: fmt.Sprintf("https://cdn.test/%s/%d/%d", task.JobID, task.Variant, task.Item.Ordinal),
	}
}

// panicky panics on the first job it runs and delegates afterwards.
type panicky struct {
	*batch.Runner
	calls atomic.Int32
}

func (p *panicky) Run(ctx context.Context, job *batch.Job) {
	if p.calls.Add(1) == 1 {
		panic("runner exploded")
	}
	p.Runner.Run(ctx, job)
}

func newRunner(it batch.ItemRunner) *batch.Runner {
	return batch.NewRunner(batch.RunnerConfig{
		Pipeline:        it,
		Pools:           content.DefaultPools(),
		ItemConcurrency: 2,
		Salt:            5,
		Rand:            func() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) },
		Log:             logger.Discard(),
	})
}

func newScheduler(exec Executor, max int) *Scheduler {
	var n atomic.Int32
	return New(exec, Config{
		MaxConcurrentJobs: max,
		Limits:            batch.Limits{MaxVariants: 5, MaxItems: 10},
		NewID:             func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
		Log:               logger.Discard(),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func status(t *testing.T, s *Scheduler, id string) batch.Status {
	t.Helper()
	snap, err := s.Status(id)
	if err != nil {
		t.Fatalf("Status(%s): %v", id, err)
	}
	return snap.Status
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("expected two slots")
	}
	if l.TryAcquire() {
		t.Fatal("third acquire must fail")
	}
	if l.InFlight() != 2 {
		t.Errorf("in flight = %d", l.InFlight())
	}
	l.Release()
	l.Release()
	l.Release()
	if l.InFlight() != 0 {
		t.Errorf("release must floor at zero, got %d", l.InFlight())
	}
	if NewLimiter(0).Max() != 1 {
		t.Error("max should default to 1")
	}
}

func TestSecondJobWaitsForFirst(t *testing.T) {
	g := newGate()
	s := newScheduler(newRunner(g), 1)

	var mu sync.Mutex
	var events []string
	s.Observe(func(snap batch.Snapshot) {
		mu.Lock()
		events = append(events, snap.ID+":"+string(snap.Status))
		mu.Unlock()
	})

	ctx := context.Background()
	first, err := s.SubmitByReference(ctx, []string{"uploads/a.mp4", "uploads/b.mp4"}, batch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SubmitByReference(ctx, []string{"uploads/c.mp4"}, batch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first job to start", func() bool { return status(t, s, first) == batch.StatusProcessing })

	// The gate is closed, so the first job cannot finish and the second must stay queued.
	time.Sleep(50 * time.Millisecond)
	if st := status(t, s, second); st != batch.StatusQueued {
		t.Fatalf("second job status = %s while first is running", st)
	}
	if s.QueueDepth() != 1 || s.Limiter().InFlight() != 1 {
		t.Errorf("depth=%d inflight=%d", s.QueueDepth(), s.Limiter().InFlight())
	}

	g.release()
	waitFor(t, "second job to finish", func() bool { return status(t, s, second) == batch.StatusDone })
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	firstDone, secondStarted := -1, -1
	for i, e := range events {
		switch e {
		case first + ":done":
			firstDone = i
		case second + ":processing":
			if secondStarted == -1 {
				secondStarted = i
			}
		}
	}
	if firstDone == -1 || secondStarted == -1 || secondStarted < firstDone {
		t.Errorf("second job started before first finished: %v", events)
	}
	if s.Limiter().InFlight() != 0 {
		t.Errorf("slot leaked: inflight=%d", s.Limiter().InFlight())
	}
}

func TestCrashReleasesSlotAndQueueContinues(t *testing.T) {
	g := newGate()
	g.release()
	exec := &panicky{Runner: newRunner(g)}
	s := newScheduler(exec, 1)

	ctx := context.Background()
	crashed, _ := s.SubmitByReference(ctx, []string{"uploads/a.mp4"}, batch.Options{})
	next, _ := s.SubmitByReference(ctx, []string{"uploads/b.mp4"}, batch.Options{})

	waitFor(t, "queue to drain", func() bool { return status(t, s, next) == batch.StatusDone })
	s.Wait()

	snap, _ := s.Status(crashed)
	if snap.Status != batch.StatusError || snap.Error == "" {
		t.Errorf("crashed job = %s %q", snap.Status, snap.Error)
	}
	if s.Limiter().InFlight() != 0 {
		t.Errorf("slot leaked after crash")
	}
}

func TestSubmitSync(t *testing.T) {
	g := newGate()
	g.release()
	s := newScheduler(newRunner(g), 1)

	items := []pipeline.Item{
		{Name: "a.mp4", Ordinal: 0, Data: []byte("a")},
		{Name: "b.mp4", Ordinal: 1, Data: []byte("b")},
	}
	snap, err := s.Submit(context.Background(), items, batch.Options{VariantCount: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.Status != batch.StatusDone || len(snap.Results) != 4 || len(snap.Manifests) != 2 {
		t.Errorf("unexpected snapshot status=%s results=%d manifests=%d", snap.Status, len(snap.Results), len(snap.Manifests))
	}
	if _, err := s.Status(snap.ID); err != nil {
		t.Errorf("sync job should be registered: %v", err)
	}
}

func TestSubmitSyncBusy(t *testing.T) {
	g := newGate()
	defer g.release()
	s := newScheduler(newRunner(g), 1)

	id, _ := s.SubmitByReference(context.Background(), []string{"uploads/a.mp4"}, batch.Options{})
	waitFor(t, "async job to hold the slot", func() bool { return status(t, s, id) == batch.StatusProcessing })

	_, err := s.Submit(context.Background(), []pipeline.Item{{Name: "x", Data: []byte("x")}}, batch.Options{})
	if !errors.IsBusy(err) {
		t.Fatalf("expected BUSY, got %v", err)
	}
	if s.Registry().Len() != 1 {
		t.Errorf("rejected job must not be registered")
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newScheduler(newRunner(newGate()), 1)
	if _, err := s.SubmitByReference(context.Background(), nil, batch.Options{}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := s.Submit(context.Background(), nil, batch.Options{}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := s.SubmitByReference(context.Background(), []string{"a"}, batch.Options{VariantCount: 99}); !errors.IsValidation(err) {
		t.Errorf("expected variant bound error, got %v", err)
	}
	if _, err := s.Status("nope"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestShutdownFailsQueuedJobs(t *testing.T) {
	g := newGate()
	s := newScheduler(newRunner(g), 1)

	running, _ := s.SubmitByReference(context.Background(), []string{"a"}, batch.Options{})
	queued, _ := s.SubmitByReference(context.Background(), []string{"b"}, batch.Options{})
	waitFor(t, "first job to start", func() bool { return status(t, s, running) == batch.StatusProcessing })

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.release()
	}()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if st := status(t, s, queued); st != batch.StatusError {
		t.Errorf("queued job status = %s", st)
	}
	if st := status(t, s, running); st != batch.StatusDone {
		t.Errorf("running job status = %s", st)
	}
	if _, err := s.SubmitByReference(context.Background(), []string{"c"}, batch.Options{}); !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("expected unavailable after shutdown, got %v", err)
	}
}

func TestJobsListsNewestFirst(t *testing.T) {
	g := newGate()
	g.release()
	s := newScheduler(newRunner(g), 2)
	for i := 0; i < 3; i++ {
		if _, err := s.SubmitByReference(context.Background(), []string{"a"}, batch.Options{}); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if got := len(s.Jobs()); got != 3 {
		t.Errorf("jobs = %d", got)
	}
}

// recorder succeeds every pair and keeps the tasks it saw.
type recorder struct {
	mu    sync.Mutex
	tasks []pipeline.Task
}

func (r *recorder) Run(ctx context.Context, task pipeline.Task) pipeline.Result {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	return pipeline.Result{
		Variant:        task.Variant,
		Ordinal:        task.Item.Ordinal,
		SourceName:     task.Item.Name,
		DestinationURL: fmt.Sprintf("https://cdn.test/%d/%d", task.Variant, task.Item.Ordinal),
	}
}

func TestSubmitRenumbersOrdinalsByPoolPosition(t *testing.T) {
	t.Run("unset ordinals", func(t *testing.T) {
		rec := &recorder{}
		s := newScheduler(newRunner(rec), 1)

		items := []pipeline.Item{
			{Name: "a.mp4", Data: []byte("a")},
			{Name: "b.mp4", Data: []byte("b")},
			{Name: "c.mp4", Data: []byte("c")},
		}
		snap, err := s.Submit(context.Background(), items, batch.Options{})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if snap.Status != batch.StatusDone || len(snap.Results) != 3 {
			t.Fatalf("status=%s results=%d", snap.Status, len(snap.Results))
		}

		bundles := map[string]bool{}
		ordinals := map[int]bool{}
		for _, task := range rec.tasks {
			ordinals[task.Item.Ordinal] = true
			bundles[task.Params.Key()+"|"+task.Assignment.Caption] = true
		}
		if len(ordinals) != 3 || !ordinals[0] || !ordinals[1] || !ordinals[2] {
			t.Errorf("expected ordinals 0..2, got %v", ordinals)
		}
		if len(bundles) != 3 {
			t.Errorf("expected 3 distinct param+caption bundles, got %d", len(bundles))
		}
		for i, it := range items {
			if it.Ordinal != 0 {
				t.Errorf("caller's item %d was modified", i)
			}
		}
	})

	t.Run("ordinal past the pool", func(t *testing.T) {
		s := newScheduler(newRunner(&recorder{}), 1)

		snap, err := s.Submit(context.Background(), []pipeline.Item{{Name: "a.mp4", Ordinal: 5, Data: []byte("a")}}, batch.Options{})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if snap.Status != batch.StatusDone || len(snap.Results) != 1 || snap.Results[0].Ordinal != 0 {
			t.Errorf("status=%s results=%+v error=%q", snap.Status, snap.Results, snap.Error)
		}
	})
}

func TestSubmitSyncYieldsToQueuedJobs(t *testing.T) {
	g := newGate()
	defer g.release()
	s := newScheduler(newRunner(g), 1)

	ctx := context.Background()
	running, _ := s.SubmitByReference(ctx, []string{"uploads/a.mp4"}, batch.Options{})
	queued, _ := s.SubmitByReference(ctx, []string{"uploads/b.mp4"}, batch.Options{})
	waitFor(t, "first job to start", func() bool { return status(t, s, running) == batch.StatusProcessing })

	// hueco entre liberar el slot y despachar la cola
	s.limiter.Release()

	_, err := s.Submit(ctx, []pipeline.Item{{Name: "x", Data: []byte("x")}}, batch.Options{})
	if !errors.IsBusy(err) {
		t.Fatalf("expected BUSY while a job is queued, got %v", err)
	}
	if st := status(t, s, queued); st != batch.StatusQueued {
		t.Errorf("queued job status = %s", st)
	}
}
