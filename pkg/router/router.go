// Package router turns inbound room events into session transitions.
//
// Dispatch filters an event, applies the per-user rate limit, then locks the
// session table and either starts a session for a trigger keyword, routes the
// message to the user's active session, or does nothing. Replies produced by
// the handler are delivered after the lock is released.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/session"
	"github.com/txn2/room-engine/pkg/store"
)

// DefaultFailureMessage is sent to the room when a handler fails.
const DefaultFailureMessage = "⚠️ @%s, that game crashed and has been closed. Please start again."

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, m protocol.Message) error
}

// Outcome is what Dispatch did with an event.
type Outcome int

// Dispatch outcomes.
const (
	Ignored Outcome = iota
	FromSelf
	RateLimited
	NoRoute
	Started
	Continued
	Finished
	Failed
)

var outcomeNames = [...]string{"ignored", "self", "rate_limited", "no_route", "started", "continued", "finished", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config configures a Router.
type Config struct {
	RateLimit      time.Duration
	RateLimitScope string
	HandlerTimeout time.Duration

	// FailureMessage is a format string receiving the user name.
	FailureMessage string
}

// Router dispatches inbound events. It is safe for concurrent use; all
// session access is serialized by the table.
type Router struct {
	table    *session.Table
	registry *plugin.Registry
	store    store.Store
	sender   Sender
	limiter  *Limiter
	cfg      Config
	self     atomic.Pointer[string]
	now      func() time.Time
}

// New creates a router.
func New(table *session.Table, registry *plugin.Registry, st store.Store, sender Sender, cfg Config) *Router {
	if cfg.RateLimitScope == "" {
		cfg.RateLimitScope = config.ScopeUser
	}
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = DefaultFailureMessage
	}
	return &Router{
		table:    table,
		registry: registry,
		store:    st,
		sender:   sender,
		limiter:  NewLimiter(cfg.RateLimit),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetSelf sets the bot's own user name; its messages are ignored.
func (r *Router) SetSelf(name string) {
	r.self.Store(&name)
}

// Self returns the bot's own user name.
func (r *Router) Self() string {
	if p := r.self.Load(); p != nil {
		return *p
	}
	return ""
}

// Prune drops rate limiter entries that no longer constrain anyone.
func (r *Router) Prune(now time.Time) int {
	return r.limiter.Prune(now)
}

// Dispatch processes one inbound event. Handler failures are contained:
// they end the failing session and never surface to the caller.
func (r *Router) Dispatch(ctx context.Context, ev protocol.Event) Outcome {
	if ev.Kind != protocol.EventText {
		return Ignored
	}
	if self := r.Self(); self != "" && strings.EqualFold(ev.From, self) {
		return FromSelf
	}
	if !r.limiter.Allow(r.limitKey(ev), r.now()) {
		slog.Debug("message rate limited", "room", ev.Room, "user", ev.From)
		return RateLimited
	}

	slog.Info("message received", activity.KindKey, activity.KindInbound,
		"room", ev.Room, "user", ev.From, "body", ev.Body)

	outbox := &plugin.Outbox{}
	var outcome Outcome
	r.table.Do(func(tx *session.Tx) {
		outcome = r.route(ctx, tx, ev, outbox)
	})

	r.flush(ctx, outbox)
	return outcome
}

func (r *Router) limitKey(ev protocol.Event) session.Key {
	if r.cfg.RateLimitScope == config.ScopeRoomUser {
		return session.Key{Room: ev.Room, User: ev.From}
	}
	return session.Key{User: ev.From}
}

// route runs with the table locked.
func (r *Router) route(ctx context.Context, tx *session.Tx, ev protocol.Event, outbox *plugin.Outbox) Outcome {
	now := r.now()
	key := session.Key{Room: ev.Room, User: ev.From}

	sess, ok := tx.Get(key)
	if !ok {
		sess = session.Session{Key: key, LastActivity: now}
	}

	fields := strings.Fields(ev.Body)
	var command string
	if len(fields) > 0 {
		command = strings.ToLower(fields[0])
	}

	var (
		handler plugin.Handler
		fresh   bool
	)
	if sess.Active {
		handler, ok = r.registry.Lookup(sess.HandlerID)
		if !ok {
			slog.Warn("dropping session bound to unknown plugin", "session", key, "plugin", sess.HandlerID)
			tx.Delete(key)
			sess = session.Session{Key: key, LastActivity: now}
		}
	}
	if !sess.Active {
		handler, ok = r.registry.Lookup(command)
		if !ok {
			return NoRoute
		}
		sess.Active = true
		sess.HandlerID = plugin.NormalizeTrigger(handler.Trigger())
		sess.Payload = nil
		fresh = true
	}
	sess.LastActivity = now

	log := slog.With("plugin", sess.HandlerID, "room", key.Room, "user", key.User)
	var args []string
	if len(fields) > 1 {
		args = fields[1:]
	}
	call := &plugin.Call{
		User:    key.User,
		Room:    key.Room,
		Text:    ev.Body,
		Command: command,
		Args:    args,
		Fresh:   fresh,
		Payload: sess.Payload,
		Global:  tx.Global(),
		Tools:   plugin.NewTools(key.Room, outbox, r.store, log),
		Log:     log,
	}

	res, err := r.invoke(ctx, handler, call)
	if err != nil {
		log.Error("plugin failed, session closed", activity.KindKey, activity.KindError, "error", err)
		tx.Delete(key)
		outbox.Reset()
		outbox.Add(protocol.SendText(key.Room, fmt.Sprintf(r.cfg.FailureMessage, key.User)))
		return Failed
	}

	if !res.Active {
		tx.Delete(key)
		return Finished
	}

	sess.Payload = res.Payload
	tx.Put(sess)
	if fresh {
		return Started
	}
	return Continued
}

// invoke calls the handler, converting panics into errors. A call that
// returns after its deadline fails even if the handler ignored ctx.
func (r *Router) invoke(ctx context.Context, h plugin.Handler, call *plugin.Call) (res plugin.Result, err error) {
	if r.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("plugin panicked: %v", p)
		}
	}()

	res, err = h.Handle(ctx, call)
	if err == nil && ctx.Err() != nil {
		return plugin.Result{}, fmt.Errorf("plugin did not finish in time: %w", ctx.Err())
	}
	return res, err
}

// flush delivers queued messages. It runs without the table lock.
func (r *Router) flush(ctx context.Context, outbox *plugin.Outbox) {
	for _, m := range outbox.Messages() {
		if err := r.sender.Send(ctx, m); err != nil {
			slog.Warn("send failed", "message", m.String(), "error", err)
			continue
		}
		slog.Info("message sent", activity.KindKey, activity.KindOutbound, "message", m.String())
	}
}
