// Package daemon provides the ptauto daemon runner.
// It owns the single-instance lock and the lifecycle of the watcher
// service, including graceful shutdown with a timeout.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")

	// ErrLocked is returned when another instance holds the lock.
	ErrLocked = errors.New("another ptauto daemon is already running")

	// ErrNoService is returned by Start when no service function is configured.
	ErrNoService = errors.New("daemon has no service")
)

// Config holds the configuration for the daemon runner.
type Config struct {
	// LockPath is the lock file guarding against a second instance.
	LockPath string

	// ShutdownTimeout is the maximum time to wait for the service to
	// return after cancellation. A zero value means no timeout.
	ShutdownTimeout time.Duration
}

// Locker is satisfied by *flock.Flock.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Dependencies holds the external dependencies for the daemon runner.
type Dependencies struct {
	// Locker guards the data directory.
	// If nil, a flock on Config.LockPath is used.
	Locker Locker

	// Service runs the daemon until its context is cancelled.
	Service func(ctx context.Context) error

	// ShutdownFunc is called after the service returned to release resources.
	// If nil, no cleanup function is called.
	ShutdownFunc func() error
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config  *Config
	deps    *Dependencies
	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new daemon runner with the given configuration and dependencies.
func New(config *Config, deps *Dependencies) *Runner {
	cfg := applyConfigDefaults(config)
	return &Runner{
		config: cfg,
		deps:   applyDependencyDefaults(cfg, deps),
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		return &Config{}
	}
	return config
}

func applyDependencyDefaults(cfg *Config, deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.Locker == nil && cfg.LockPath != "" {
		deps.Locker = flock.New(cfg.LockPath)
	}
	return deps
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Start takes the lock and runs the service until it returns or ctx is
// canceled. A clean stop returns nil.
func (r *Runner) Start(ctx context.Context) error {
	if r.deps.Service == nil {
		return ErrNoService
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := r.acquire(); err != nil {
		r.mu.Unlock()
		return err
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true
	done := r.done
	r.mu.Unlock()

	defer close(done)
	defer r.cleanupOnStop()

	errCh := make(chan error, 1)
	go func() { errCh <- r.deps.Service(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = r.waitService(errCh)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (r *Runner) acquire() error {
	if r.deps.Locker == nil {
		return nil
	}
	ok, err := r.deps.Locker.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// waitService waits for the service to return after cancellation.
func (r *Runner) waitService(errCh <-chan error) error {
	if r.config.ShutdownTimeout <= 0 {
		return <-errCh
	}
	t := time.NewTimer(r.config.ShutdownTimeout)
	defer t.Stop()
	select {
	case err := <-errCh:
		return err
	case <-t.C:
		return ErrShutdownTimeout
	}
}

// cleanupOnStop runs the shutdown function and releases the lock.
func (r *Runner) cleanupOnStop() {
	if r.deps.ShutdownFunc != nil {
		// The lock must be released regardless of cleanup errors.
		_ = r.deps.ShutdownFunc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.cancel()
	if r.deps.Locker != nil {
		_ = r.deps.Locker.Unlock()
	}
}

// Shutdown cancels the service and waits for Start to return.
// Returns ErrNotRunning if the daemon is not running.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()

	if r.config.ShutdownTimeout <= 0 {
		<-done
		return nil
	}
	// Start itself gives up after ShutdownTimeout; allow cleanup on top.
	t := time.NewTimer(2 * r.config.ShutdownTimeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrShutdownTimeout
	}
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
