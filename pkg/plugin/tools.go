package plugin

import (
	"context"
	"log/slog"

	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/store"
)

// Outbox collects outbound messages produced while the session table is
// locked. The router flushes it once the lock is released. An Outbox is
// owned by a single dispatch and is not safe for concurrent use.
type Outbox struct {
	msgs []protocol.Message
}

// Add queues m.
func (o *Outbox) Add(m protocol.Message) {
	o.msgs = append(o.msgs, m)
}

// Messages returns the queued messages in order.
func (o *Outbox) Messages() []protocol.Message {
	return o.msgs
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.msgs)
}

// Reset discards the queued messages.
func (o *Outbox) Reset() {
	o.msgs = o.msgs[:0]
}

// Tools is the capability set handed to a handler for one call. Sends are
// queued on the outbox and scoped to the call's room. Store operations never
// fail from the handler's point of view: errors are logged and the
// operation becomes a no-op.
type Tools struct {
	room   string
	outbox *Outbox
	store  store.Store
	log    *slog.Logger
}

// NewTools creates the tools for one call in room.
func NewTools(room string, outbox *Outbox, st store.Store, log *slog.Logger) *Tools {
	if log == nil {
		log = slog.Default()
	}
	return &Tools{room: room, outbox: outbox, store: st, log: log}
}

// SendText sends body to the call's room.
func (t *Tools) SendText(body string) {
	t.outbox.Add(protocol.SendText(t.room, body))
}

// SendMedia sends an image or other media to the call's room.
func (t *Tools) SendMedia(body, url string) {
	t.outbox.Add(protocol.SendMedia(t.room, body, url))
}

// SendRaw sends an arbitrary protocol message.
func (t *Tools) SendRaw(m protocol.Message) {
	t.outbox.Add(m)
}

// AddScore adds delta to the user's global score.
func (t *Tools) AddScore(ctx context.Context, user string, delta int64) bool {
	if err := t.store.AddScore(ctx, user, delta); err != nil {
		t.log.Error("score update failed", "user", user, "delta", delta, "error", err)
		return false
	}
	return true
}

// Score returns the user's global score, or 0 when it cannot be read.
func (t *Tools) Score(ctx context.Context, user string) int64 {
	score, err := t.store.Score(ctx, user)
	if err != nil {
		t.log.Error("score lookup failed", "user", user, "error", err)
		return 0
	}
	return score
}

// TopScores returns the global leaderboard, or nil when it cannot be read.
func (t *Tools) TopScores(ctx context.Context, limit int) []store.Entry {
	entries, err := t.store.TopScores(ctx, limit)
	if err != nil {
		t.log.Error("leaderboard lookup failed", "error", err)
		return nil
	}
	return entries
}

// AddGameScore adds delta to the user's score for game.
func (t *Tools) AddGameScore(ctx context.Context, user, game string, delta int64) bool {
	if err := t.store.AddGameScore(ctx, user, game, delta); err != nil {
		t.log.Error("game stat update failed", "user", user, "game", game, "error", err)
		return false
	}
	return true
}

// GameScore returns the user's score for game, or 0.
func (t *Tools) GameScore(ctx context.Context, user, game string) int64 {
	score, err := t.store.GameScore(ctx, user, game)
	if err != nil {
		t.log.Error("game stat lookup failed", "user", user, "game", game, "error", err)
		return 0
	}
	return score
}

// UserStats returns every game score of the user, or nil.
func (t *Tools) UserStats(ctx context.Context, user string) []store.GameEntry {
	stats, err := t.store.UserStats(ctx, user)
	if err != nil {
		t.log.Error("user stats lookup failed", "user", user, "error", err)
		return nil
	}
	return stats
}

// TopGame returns the leaderboard for game, or nil.
func (t *Tools) TopGame(ctx context.Context, game string, limit int) []store.Entry {
	entries, err := t.store.TopGame(ctx, game, limit)
	if err != nil {
		t.log.Error("game leaderboard lookup failed", "game", game, "error", err)
		return nil
	}
	return entries
}
