// Package mines implements a 3x3 minesweeper-style game. Two of the nine
// cells hide a bomb; eating four safe chips wins.
package mines

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/plugin"
)

const (
	// Trigger starts a game.
	Trigger = "!mines"

	// EatCommand reveals a cell.
	EatCommand = "!eat"

	// Game is the name under which wins are recorded.
	Game = "mines"

	// Prize is awarded on a win.
	Prize = 50

	cells      = 9
	bombCount  = 2
	chipsToWin = 4
)

var cellIcons = [cells]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

// board is the session payload.
type board struct {
	Bombs []int `json:"bombs"`
	Eaten []int `json:"eaten"`
}

// valid reports whether b could have been dealt by this game.
func (b board) valid() bool {
	if len(b.Bombs) != bombCount || b.Bombs[0] == b.Bombs[1] || len(b.Eaten) >= chipsToWin {
		return false
	}
	for _, c := range slices.Concat(b.Bombs, b.Eaten) {
		if c < 1 || c > cells {
			return false
		}
	}
	for _, c := range b.Eaten {
		if slices.Contains(b.Bombs, c) {
			return false
		}
	}
	return len(slices.Compact(slices.Sorted(slices.Values(b.Eaten)))) == len(b.Eaten)
}

// Handler plays mines.
type Handler struct {
	rng *rand.Rand
}

// Option configures a Handler.
type Option func(*Handler)

// WithRand sets the random source used to place bombs.
func WithRand(rng *rand.Rand) Option {
	return func(h *Handler) {
		h.rng = rng
	}
}

// New creates a mines handler.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Trigger implements plugin.Handler.
func (*Handler) Trigger() string {
	return Trigger
}

// Handle implements plugin.Handler.
func (h *Handler) Handle(ctx context.Context, call *plugin.Call) (plugin.Result, error) {
	if call.Command == Trigger {
		return h.start(call, "")
	}

	var b board
	if err := plugin.Decode(call.Payload, &b); err != nil || !b.valid() {
		call.Log.Warn("resetting corrupt mines board", "error", err)
		return h.start(call, fmt.Sprintf("⚠️ @%s, your board was lost, so here is a fresh one.\n", call.User))
	}

	if call.Command != EatCommand || len(call.Args) == 0 {
		return plugin.Continue(b)
	}

	cell, err := strconv.Atoi(call.Args[0])
	if err != nil || cell < 1 || cell > cells || slices.Contains(b.Eaten, cell) {
		return plugin.Continue(b)
	}

	if slices.Contains(b.Bombs, cell) {
		call.Tools.SendText(fmt.Sprintf("💥 BOOM! @%s hit a bomb at #%d!\n💀 GAME OVER.\n\n%s",
			call.User, cell, render(b, true, cell)))
		call.Log.Info("mines lost", "cell", cell)
		return plugin.Finish(), nil
	}

	b.Eaten = append(b.Eaten, cell)
	if len(b.Eaten) < chipsToWin {
		call.Tools.SendText(fmt.Sprintf("🥔 SAFE! (%d/%d)\n%s", len(b.Eaten), chipsToWin, render(b, false, 0)))
		return plugin.Continue(b)
	}

	call.Tools.AddScore(ctx, call.User, Prize)
	call.Tools.AddGameScore(ctx, call.User, Game, Prize)
	call.Tools.SendText(fmt.Sprintf("🎉 WINNER! @%s ate %d chips!\n💰 +%d Points added!\n\n%s",
		call.User, chipsToWin, Prize, render(b, true, 0)))
	call.Log.Info("mines won", activity.KindKey, activity.KindWin, "prize", Prize)
	return plugin.Finish(), nil
}

func (h *Handler) start(call *plugin.Call, prefix string) (plugin.Result, error) {
	b := board{Bombs: h.deal(), Eaten: []int{}}
	call.Tools.SendText(fmt.Sprintf("%s💣 MINES STARTED! @%s\nGoal: Eat %d Chips 🥔 | Avoid %d Bombs 💣\nType: %s <1-%d>\n\n%s",
		prefix, call.User, chipsToWin, bombCount, EatCommand, cells, render(b, false, 0)))
	call.Log.Info("mines started")
	return plugin.Continue(b)
}

// deal picks bombCount distinct cells.
func (h *Handler) deal() []int {
	perm := rand.Perm
	if h.rng != nil {
		perm = h.rng.Perm
	}
	bombs := perm(cells)[:bombCount]
	for i := range bombs {
		bombs[i]++
	}
	return bombs
}

// render draws the grid. With reveal set, bombs are shown and exploded marks
// the bomb that was hit.
func render(b board, reveal bool, exploded int) string {
	var sb strings.Builder
	for i := 1; i <= cells; i++ {
		switch {
		case reveal && i == exploded:
			sb.WriteString("💥")
		case reveal && slices.Contains(b.Bombs, i):
			sb.WriteString("💣")
		case slices.Contains(b.Eaten, i):
			sb.WriteString("🥔")
		default:
			sb.WriteString(cellIcons[i-1])
		}
		switch {
		case i == cells:
		case i%3 == 0:
			sb.WriteString("\n")
		default:
			sb.WriteString(" ")
		}
	}
	return sb.String()
}
