// Package admin lets configured operators move the bot between rooms from
// chat with "!join <room>" and "!leave [room]".
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/protocol"
)

// Triggers.
const (
	JoinTrigger  = "!join"
	LeaveTrigger = "!leave"
)

// Admins is a case-insensitive set of user names allowed to run admin
// commands.
type Admins map[string]struct{}

// NewAdmins builds the admin set.
func NewAdmins(names []string) Admins {
	a := make(Admins, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			a[n] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether user is an admin.
func (a Admins) Allowed(user string) bool {
	_, ok := a[strings.ToLower(user)]
	return ok
}

// Join handles "!join <room>".
type Join struct {
	admins Admins
}

// NewJoin creates the join handler.
func NewJoin(admins Admins) *Join {
	return &Join{admins: admins}
}

// Trigger implements plugin.Handler.
func (*Join) Trigger() string {
	return JoinTrigger
}

// Handle implements plugin.Handler.
func (j *Join) Handle(_ context.Context, call *plugin.Call) (plugin.Result, error) {
	if !j.admins.Allowed(call.User) {
		call.Log.Warn("admin command refused", "command", JoinTrigger)
		return plugin.Finish(), nil
	}
	if len(call.Args) == 0 {
		call.Tools.SendText("❌ Format: " + JoinTrigger + " RoomName")
		return plugin.Finish(), nil
	}

	room := call.Args[0]
	call.Tools.SendText(fmt.Sprintf("🚀 Joining room: %s...", room))
	call.Tools.SendRaw(protocol.JoinRoom(room))
	call.Log.Info("admin joined room", "target", room)
	return plugin.Finish(), nil
}

// Leave handles "!leave" for the current room, or "!leave <room>".
type Leave struct {
	admins Admins
}

// NewLeave creates the leave handler.
func NewLeave(admins Admins) *Leave {
	return &Leave{admins: admins}
}

// Trigger implements plugin.Handler.
func (*Leave) Trigger() string {
	return LeaveTrigger
}

// Handle implements plugin.Handler.
func (l *Leave) Handle(_ context.Context, call *plugin.Call) (plugin.Result, error) {
	if !l.admins.Allowed(call.User) {
		call.Log.Warn("admin command refused", "command", LeaveTrigger)
		return plugin.Finish(), nil
	}

	room := call.Room
	if len(call.Args) > 0 {
		room = call.Args[0]
	}
	if room == call.Room {
		call.Tools.SendText("👋 Bye bye! Leaving this room.")
	}
	call.Tools.SendRaw(protocol.LeaveRoom(room))
	call.Log.Info("admin left room", "target", room)
	return plugin.Finish(), nil
}
