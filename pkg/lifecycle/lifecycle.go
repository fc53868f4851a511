// Package lifecycle orders component startup and shutdown and runs the
// periodic session maintenance jobs.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type hook struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts registered components in order and stops them in
// reverse. A component whose start fails is not stopped; every component
// started before it is.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []hook
	started int
	running bool
}

// New creates an empty lifecycle.
func New() *Lifecycle {
	return &Lifecycle{}
}

// Append registers a component. Either callback may be nil.
func (l *Lifecycle) Append(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, start: start, stop: stop})
}

// OnStop registers a shutdown-only callback.
func (l *Lifecycle) OnStop(name string, fn func(context.Context) error) {
	l.Append(name, nil, fn)
}

// RegisterCloser registers an io.Closer to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c io.Closer) {
	l.OnStop(name, func(_ context.Context) error {
		return c.Close()
	})
}

// Start runs every start callback in registration order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start != nil {
			if err := h.start(ctx); err != nil {
				l.rollback(ctx, i)
				return fmt.Errorf("starting %s: %w", h.name, err)
			}
		}
		l.started = i + 1
	}

	l.running = true
	return nil
}

// rollback stops the first n components in reverse.
func (l *Lifecycle) rollback(ctx context.Context, n int) {
	for j := n - 1; j >= 0; j-- {
		h := l.hooks[j]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			slog.Warn("rollback stop failed", "component", h.name, "error", err)
		}
	}
	l.started = 0
}

// Stop runs stop callbacks of started components in reverse order. Every
// callback runs even when an earlier one fails.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}

	var errs []error
	for j := l.started - 1; j >= 0; j-- {
		h := l.hooks[j]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			slog.Error("component stop failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.name, err))
		}
	}

	l.running = false
	l.started = 0
	return errors.Join(errs...)
}

// IsStarted reports whether Start has succeeded and Stop has not run.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
