// Package activity keeps a short, bounded history of operator-facing log lines
// and exposes it to the control plane.
package activity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// KindKey is the slog attribute key that classifies an entry.
const KindKey = "kind"

// Entry kinds, as rendered by the operator dashboard.
const (
	KindSystem   = "sys"
	KindInbound  = "in"
	KindOutbound = "out"
	KindError    = "err"
	KindWin      = "win"
)

// Entry is one recorded log line.
type Entry struct {
	Time time.Time `json:"time"`
	Msg  string    `json:"msg"`
	Kind string    `json:"type"`
}

// Log is a fixed-capacity ring of entries. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewLog creates a log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{entries: make([]Entry, capacity)}
}

// Add records an entry, evicting the oldest when full.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns a copy of the entries, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Entry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Handler is a slog.Handler that forwards to an inner handler and records
// every enabled record into a Log.
type Handler struct {
	inner slog.Handler
	log   *Log
	attrs []slog.Attr
}

// NewHandler wraps inner so that records also land in log.
func NewHandler(inner slog.Handler, log *Log) *Handler {
	return &Handler{inner: inner, log: log}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.log.Add(Entry{
		Time: r.Time,
		Msg:  formatMessage(r, h.attrs),
		Kind: kindOf(r, h.attrs),
	})
	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{inner: h.inner.WithAttrs(attrs), log: h.log, attrs: merged}
}

// WithGroup implements slog.Handler. Groups only affect the inner handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), log: h.log, attrs: h.attrs}
}

func kindOf(r slog.Record, preset []slog.Attr) string {
	kind := ""
	for _, a := range preset {
		if a.Key == KindKey {
			kind = a.Value.String()
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == KindKey {
			kind = a.Value.String()
			return false
		}
		return true
	})
	if kind != "" {
		return kind
	}
	if r.Level >= slog.LevelError {
		return KindError
	}
	return KindSystem
}

// formatMessage renders the message followed by the non-kind attributes.
func formatMessage(r slog.Record, preset []slog.Attr) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) {
		if a.Key == KindKey {
			return
		}
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
	}
	for _, a := range preset {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	return b.String()
}

// Verify interface compliance.
var _ slog.Handler = (*Handler)(nil)
