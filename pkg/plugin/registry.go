package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrEmptyTrigger is returned when a handler has no trigger keyword.
	ErrEmptyTrigger = errors.New("plugin trigger is empty")

	// ErrInvalidTrigger is returned when a trigger is not a single token.
	ErrInvalidTrigger = errors.New("plugin trigger must be a single word")

	// ErrDuplicateTrigger is returned when a trigger is already registered.
	ErrDuplicateTrigger = errors.New("plugin trigger already registered")
)

// NormalizeTrigger returns the canonical form of a trigger keyword.
func NormalizeTrigger(trigger string) string {
	return strings.ToLower(strings.TrimSpace(trigger))
}

// Registry maps trigger keywords to handlers. It is built at startup and is
// safe for concurrent lookups.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under its trigger.
func (r *Registry) Register(h Handler) error {
	trigger := NormalizeTrigger(h.Trigger())
	if trigger == "" {
		return ErrEmptyTrigger
	}
	if strings.ContainsFunc(trigger, unicode.IsSpace) {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[trigger]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, trigger)
	}
	r.handlers[trigger] = h
	return nil
}

// RegisterAll registers each handler, logging and skipping those that fail
// so one bad handler does not prevent the others from loading. It returns
// the number registered.
func (r *Registry) RegisterAll(handlers ...Handler) int {
	n := 0
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			slog.Error("plugin registration failed", "trigger", h.Trigger(), "error", err)
			continue
		}
		slog.Info("plugin registered", "trigger", NormalizeTrigger(h.Trigger()))
		n++
	}
	return n
}

// Lookup returns the handler for trigger.
func (r *Registry) Lookup(trigger string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[NormalizeTrigger(trigger)]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Triggers returns the registered triggers in sorted order.
func (r *Registry) Triggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	triggers := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		triggers = append(triggers, t)
	}
	slices.Sort(triggers)
	return triggers
}
