// Package stats reports the caller's total score and per-game statistics.
package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/txn2/room-engine/pkg/plugin"
)

// Trigger shows the caller's statistics.
const Trigger = "!stats"

// Handler reports statistics. Every call finishes the session.
type Handler struct{}

// New creates a statistics handler.
func New() *Handler {
	return &Handler{}
}

// Trigger implements plugin.Handler.
func (*Handler) Trigger() string {
	return Trigger
}

// Handle implements plugin.Handler.
func (*Handler) Handle(ctx context.Context, call *plugin.Call) (plugin.Result, error) {
	total := call.Tools.Score(ctx, call.User)
	games := call.Tools.UserStats(ctx, call.User)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 @%s: %d pts total", call.User, total)
	for _, g := range games {
		fmt.Fprintf(&sb, "\n• %s: %d pts", g.Game, g.Score)
	}
	call.Tools.SendText(sb.String())
	return plugin.Finish(), nil
}
