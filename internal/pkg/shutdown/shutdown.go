// Package shutdown runs the ordered teardown of the clipmill processes:
// stop intake first, drain running jobs, then close the stores.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"clipmill/internal/pkg/logger"
)

// DefaultTimeout bounds the whole teardown when NewManager gets zero.
const DefaultTimeout = 30 * time.Second

var signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// Manager collects cleanup steps and runs them last-registered-first under
// one shared deadline.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []Handler

	once     sync.Once
	stopping context.Context
	stop     context.CancelFunc
	done     chan struct{}
}

// Handler is one named cleanup step.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	stopping, stop := context.WithCancel(context.Background())
	return &Manager{
		log:      log,
		timeout:  timeout,
		stopping: stopping,
		stop:     stop,
		done:     make(chan struct{}),
	}
}

// Register appends a cleanup step. Steps run in reverse registration order,
// so stores registered first close after the components using them.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	m.steps = append(m.steps, Handler{Name: name, Cleanup: cleanup})
	m.mu.Unlock()
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple registers a cleanup that cannot fail, like pgxpool.Close.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP and then shuts down.
func (m *Manager) Wait() {
	m.WaitWithContext(context.Background())
}

// WaitWithContext is Wait that also shuts down when ctx ends.
func (m *Manager) WaitWithContext(ctx context.Context) {
	sigCtx, release := signal.NotifyContext(ctx, signals...)
	defer release()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		m.log.Info("context canceled, initiating shutdown")
	} else {
		m.log.Info("shutdown signal received")
	}
	m.Shutdown()
}

// Shutdown runs every step once. Later calls are no-ops; a call made while
// the first is running blocks until it finishes.
func (m *Manager) Shutdown() {
	m.once.Do(m.teardown)
}

func (m *Manager) teardown() {
	defer close(m.done)
	m.stop()

	m.mu.Lock()
	steps := append([]Handler(nil), m.steps...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(steps), "timeout", m.timeout.String())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := len(steps) - 1; i >= 0; i-- {
			m.run(ctx, steps[i])
		}
	}()

	select {
	case <-finished:
		m.log.Info("graceful shutdown completed")
	case <-ctx.Done():
		m.log.Warn("shutdown timeout exceeded, forcing exit")
	}
}

func (m *Manager) run(ctx context.Context, h Handler) {
	start := time.Now()
	err := h.Cleanup(ctx)
	took := time.Since(start).Milliseconds()
	if err != nil {
		m.log.Error("shutdown handler failed", "name", h.Name, "error", err.Error(), "duration_ms", took)
		return
	}
	m.log.Debug("shutdown handler completed", "name", h.Name, "duration_ms", took)
}

// Done is closed once teardown has finished or given up.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Context is canceled as soon as teardown starts. Background loops such as
// the registry janitor and the intake consumer derive from it.
func (m *Manager) Context() context.Context {
	return m.stopping
}
