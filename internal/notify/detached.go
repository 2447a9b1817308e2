// Package notify delivers best-effort customer notifications without blocking requests.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTaskTimeout = 15 * time.Second

// Task is a unit of detached work. The context carries the per-task deadline.
type Task func(ctx context.Context) error

// Detached runs tasks in the background. Callers never wait for a task; failures
// and panics are logged. Drain waits for outstanding tasks during shutdown.
type Detached struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// NewDetached returns a runner that bounds each task by timeout.
func NewDetached(logger *zap.Logger, timeout time.Duration) *Detached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	return &Detached{logger: logger, timeout: timeout}
}

// Go starts task and returns immediately. It reports false once the runner is draining.
func (d *Detached) Go(name string, task Task) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("detached task dropped during shutdown", zap.String("task", name))
		return false
	}
	d.running.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.running.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		started := time.Now()
		if err := d.run(ctx, task); err != nil {
			d.logger.Warn("detached task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
			return
		}
		d.logger.Debug("detached task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(started)))
	}()
	return true
}

func (d *Detached) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return task(ctx)
}

// Drain stops accepting tasks and waits for running ones until ctx is done.
func (d *Detached) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
