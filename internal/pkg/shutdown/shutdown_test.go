package shutdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipmill/internal/pkg/logger"
)

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})
	return NewManager(log, timeout), &buf
}

func TestNewManagerDefaultsTimeout(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	if mgr.timeout != DefaultTimeout {
		t.Errorf("expected %s, got %s", DefaultTimeout, mgr.timeout)
	}
	mgr, _ = newTestManager(t, -time.Second)
	if mgr.timeout != DefaultTimeout {
		t.Errorf("expected negative timeout to fall back, got %s", mgr.timeout)
	}
}

func TestTeardownOrder(t *testing.T) {
	mgr, _ := newTestManager(t, 5*time.Second)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// orden de main: stores primero, server al final
	mgr.RegisterSimple("postgres", record("postgres"))
	mgr.RegisterSimple("redis", record("redis"))
	mgr.RegisterSimple("scheduler", record("scheduler"))
	mgr.RegisterSimple("intake", record("intake"))
	mgr.RegisterSimple("http-server", record("http-server"))

	mgr.Shutdown()

	want := "http-server,intake,scheduler,redis,postgres"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestShutdownWithoutHandlers(t *testing.T) {
	mgr, buf := newTestManager(t, time.Second)
	mgr.Shutdown()

	select {
	case <-mgr.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if !strings.Contains(buf.String(), "graceful shutdown completed") {
		t.Errorf("expected completion log, got %s", buf.String())
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	mgr, _ := newTestManager(t, time.Second)

	var calls atomic.Int32
	mgr.RegisterSimple("scheduler", func() { calls.Add(1) })

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown()
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one cleanup run, got %d", calls.Load())
	}
}

func TestFailingHandlerDoesNotStopTheRest(t *testing.T) {
	mgr, buf := newTestManager(t, 5*time.Second)

	var ran atomic.Int32
	mgr.RegisterSimple("postgres", func() { ran.Add(1) })
	mgr.Register("kafka", func(context.Context) error {
		ran.Add(1)
		return errors.New("flush: broker unreachable")
	})
	mgr.RegisterSimple("http-server", func() { ran.Add(1) })

	mgr.Shutdown()

	if ran.Load() != 3 {
		t.Errorf("expected all 3 handlers to run, got %d", ran.Load())
	}
	if !strings.Contains(buf.String(), "broker unreachable") {
		t.Error("expected handler error to be logged")
	}
}

func TestContextCancelsWhenTeardownStarts(t *testing.T) {
	mgr, _ := newTestManager(t, time.Second)
	ctx := mgr.Context()

	if ctx.Err() != nil {
		t.Fatal("expected live context before shutdown")
	}

	var sawCanceled bool
	mgr.RegisterSimple("intake", func() { sawCanceled = ctx.Err() != nil })
	mgr.Shutdown()

	if !sawCanceled {
		t.Error("expected context to be canceled before handlers run")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr, buf := newTestManager(t, 50*time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	mgr.Register("scheduler", func(ctx context.Context) error {
		<-release
		return nil
	})

	start := time.Now()
	mgr.Shutdown()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown ignored its deadline: %v", elapsed)
	}
	if !strings.Contains(buf.String(), "shutdown timeout exceeded") {
		t.Error("expected timeout warning")
	}
}

func TestWaitWithContext(t *testing.T) {
	mgr, _ := newTestManager(t, time.Second)

	var closed atomic.Bool
	mgr.RegisterSimple("redis", func() { closed.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		mgr.WaitWithContext(ctx)
		close(returned)
	}()
	cancel()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitWithContext did not return after cancel")
	}
	if !closed.Load() {
		t.Error("expected cleanup to run")
	}
}
