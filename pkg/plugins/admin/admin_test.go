package admin

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/store/memory"
)

func run(t *testing.T, h plugin.Handler, user string, args ...string) []protocol.Message {
	t.Helper()
	out := &plugin.Outbox{}
	res, err := h.Handle(context.Background(), &plugin.Call{
		User:    user,
		Room:    "lobby",
		Command: h.Trigger(),
		Args:    args,
		Fresh:   true,
		Tools:   plugin.NewTools("lobby", out, memory.New(), nil),
		Log:     slog.Default(),
	})
	require.NoError(t, err)
	assert.False(t, res.Active, "admin commands are one-shot")
	return out.Messages()
}

func TestAdmins(t *testing.T) {
	a := NewAdmins([]string{" Root ", "", "ops"})
	assert.True(t, a.Allowed("root"))
	assert.True(t, a.Allowed("OPS"))
	assert.False(t, a.Allowed("alice"))
	assert.Len(t, a, 2)
}

func TestJoin(t *testing.T) {
	h := NewJoin(NewAdmins([]string{"root"}))

	msgs := run(t, h, "root", "arcade")
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.SendText("lobby", "🚀 Joining room: arcade..."), msgs[0])
	assert.Equal(t, protocol.JoinRoom("arcade"), msgs[1])
}

func TestJoin_MissingRoom(t *testing.T) {
	msgs := run(t, NewJoin(NewAdmins([]string{"root"})), "root")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Format")
}

func TestJoin_RefusesNonAdmin(t *testing.T) {
	msgs := run(t, NewJoin(NewAdmins([]string{"root"})), "mallory", "arcade")
	assert.Empty(t, msgs)
}

func TestLeave(t *testing.T) {
	h := NewLeave(NewAdmins([]string{"root"}))

	msgs := run(t, h, "root")
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.LeaveRoom("lobby"), msgs[1])

	msgs = run(t, h, "root", "arcade")
	assert.Equal(t, []protocol.Message{protocol.LeaveRoom("arcade")}, msgs)

	assert.Empty(t, run(t, h, "mallory"))
}
