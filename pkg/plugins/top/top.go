// Package top shows leaderboards: the global score table, or the table for a
// single game with "!top <game>".
package top

import (
	"context"
	"fmt"
	"strings"

	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/store"
)

// Trigger shows a leaderboard.
const Trigger = "!top"

var medals = []string{"🥇", "🥈", "🥉"}

// Handler renders leaderboards. Every call finishes the session.
type Handler struct {
	limit int
}

// New creates a leaderboard handler showing limit rows.
func New(limit int) *Handler {
	return &Handler{limit: store.Limit(limit)}
}

// Trigger implements plugin.Handler.
func (*Handler) Trigger() string {
	return Trigger
}

// Handle implements plugin.Handler.
func (h *Handler) Handle(ctx context.Context, call *plugin.Call) (plugin.Result, error) {
	var (
		title   string
		entries []store.Entry
	)
	if len(call.Args) > 0 {
		game := store.NormalizeGame(call.Args[0])
		entries = call.Tools.TopGame(ctx, game, h.limit)
		title = fmt.Sprintf("🏆 --- TOP %d %s --- 🏆", h.limit, strings.ToUpper(game))
	} else {
		entries = call.Tools.TopScores(ctx, h.limit)
		title = fmt.Sprintf("🏆 --- GLOBAL TOP %d --- 🏆", h.limit)
	}

	if len(entries) == 0 {
		call.Tools.SendText(fmt.Sprintf("⚠️ @%s, nobody is on this list yet!", call.User))
		return plugin.Finish(), nil
	}

	call.Tools.SendText(Format(title, entries))
	call.Log.Info("leaderboard requested", "game", strings.Join(call.Args, " "))
	return plugin.Finish(), nil
}

// Format renders a leaderboard with medals for the first three places.
func Format(title string, entries []store.Entry) string {
	var sb strings.Builder
	sb.WriteString(title)
	for i, e := range entries {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&sb, "\n%s %s: %d pts", rank, e.Username, e.Score)
	}
	return sb.String()
}
