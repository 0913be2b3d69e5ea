package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spacethumbs/core"
	"spacethumbs/logging"
)

// DefaultTimeout bounds the whole stop sequence.
const DefaultTimeout = 30 * time.Second

// Manager runs the stop sequence of the host process:
//  1. cancel Context, which background loops started with Go watch
//  2. reject new jobs and wait for in-flight ones
//  3. wait for the background loops to return
//  4. run the registered handlers in priority order
//
// Usage:
//
//	m := shutdown.NewManager(logger)
//	m.Register("ledger", shutdown.PriorityLedger, closeLedger)
//	m.Go("housekeeper", hk.Run)
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	force   func(code int)

	ctx    context.Context
	cancel context.CancelFunc
	loops  *errgroup.Group

	tracker  *JobTracker
	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal

	mu       sync.Mutex
	started  bool
	stopping bool
	result   error
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds the stop sequence.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithForceExit replaces os.Exit as the action of a repeated signal.
func WithForceExit(fn func(code int)) Option {
	return func(m *Manager) { m.force = fn }
}

// WithParent derives Context from parent instead of context.Background.
func WithParent(parent context.Context) Option {
	return func(m *Manager) {
		m.cancel()
		m.ctx, m.cancel = context.WithCancel(parent)
	}
}

// NewManager creates a Manager. Nothing listens for signals until Start.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:   logging.OrNop(logger).Named("shutdown"),
		timeout:  DefaultTimeout,
		force:    os.Exit,
		tracker:  NewJobTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	m.loops, m.ctx = errgroup.WithContext(m.ctx)
	m.signals = NewSignalCounter(2, func(code int) {
		m.logger.Warn("second signal received, exiting immediately", zap.Int("exit_code", code))
		_ = m.logger.Sync()
		m.force(code)
	})
	return m
}

// Context is cancelled when shutdown begins or a background loop fails.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a handler run during Shutdown.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Go runs fn in the background with Context. fn should return when the
// context ends; a non-cancellation error cancels Context for everyone.
func (m *Manager) Go(name string, fn func(ctx context.Context) error) {
	m.loops.Go(func() error {
		err := fn(m.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("background loop failed", zap.String("loop", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		m.logger.Debug("background loop stopped", zap.String("loop", name))
		return nil
	})
}

// Track runs fn as an in-flight job that Shutdown waits for. Once shutdown
// has begun it returns ErrTrackerClosed without running fn.
func (m *Manager) Track(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("job rejected during shutdown", zap.String("job", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Start cancels Context on SIGINT or SIGTERM. A second signal forces an
// exit with that signal's exit code. Calling Start again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			if m.signals.Observe(sig) == 1 {
				m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
				m.cancel()
			}
		}
	}()
}

// Shutdown runs the stop sequence once; later calls return the first
// result. The error joins loop failures, a drain timeout and handler errors.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return m.result
	}
	m.stopping = true
	m.mu.Unlock()

	start := time.Now()
	deadline := start.Add(m.timeout)
	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int("handlers", m.registry.Len()))

	m.cancel()
	m.tracker.Close()

	var errs []error
	if n := m.tracker.Active(); n > 0 {
		m.logger.Info("waiting for in-flight jobs", zap.Int64("active", n))
	}
	if err := m.tracker.Wait(time.Until(deadline)); err != nil {
		m.logger.Warn("in-flight jobs still running", zap.Int64("active", m.tracker.Active()))
		errs = append(errs, err)
	}

	loopsDone := make(chan error, 1)
	go func() { loopsDone <- m.loops.Wait() }()
	select {
	case err := <-loopsDone:
		if err != nil {
			errs = append(errs, err)
		}
	case <-time.After(time.Until(deadline)):
		m.logger.Warn("background loops did not stop in time")
		errs = append(errs, ErrWaitTimeout)
	}

	// Handlers always get at least a second, even after a slow drain.
	remaining := max(time.Until(deadline), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()
	for _, err := range m.registry.Run(ctx) {
		m.logger.Error("shutdown handler failed", zap.Error(err))
		errs = append(errs, err)
	}

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigChan)
	}
	m.result = errors.Join(errs...)
	m.mu.Unlock()

	m.logger.Info("shutdown complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("errors", len(errs)))
	return m.result
}

// ActiveJobs returns the number of jobs started with Track still running.
func (m *Manager) ActiveJobs() int64 { return m.tracker.Active() }

// IsShuttingDown reports whether Shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// Handlers returns the registered handler names in execution order.
func (m *Manager) Handlers() []string { return m.registry.Names() }
