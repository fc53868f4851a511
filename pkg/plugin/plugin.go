// Package plugin defines the contract between the message router and the
// chat handlers it dispatches to.
//
// A handler is bound to a trigger keyword such as "!mines". When a user sends
// the trigger and has no active session in that room, the router starts a
// session bound to the handler. Every following message from the same user in
// the same room is routed to that handler until it returns a finished result
// or fails.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/txn2/room-engine/pkg/session"
)

// Handler is a unit of chat logic bound to a trigger keyword.
type Handler interface {
	// Trigger returns the keyword that starts a session, for example "!mines".
	// Triggers are matched case-insensitively.
	Trigger() string

	// Handle processes one message for the session. It runs while the
	// session table is locked, so it must not block on the network; replies
	// go through call.Tools and are delivered after Handle returns.
	Handle(ctx context.Context, call *Call) (Result, error)
}

// Call carries everything a handler receives for one message.
type Call struct {
	User string
	Room string

	// Text is the raw message body.
	Text string

	// Command is the first token of Text, lower-cased. Args are the
	// remaining tokens.
	Command string
	Args    []string

	// Fresh is true when this message started the session.
	Fresh bool

	// Payload is the handler-private state returned by the previous call.
	// It is nil for a fresh session and may be stale or corrupt after a
	// restore; handlers must reset rather than fail on bad payloads.
	Payload json.RawMessage

	// Global is shared by every handler and is not copied per session.
	Global *session.Global

	Tools *Tools
	Log   *slog.Logger
}

// Result is returned by a handler. Active=false ends the session.
type Result struct {
	Active  bool
	Payload json.RawMessage
}

// Continue keeps the session alive with payload as its new state.
func Continue(payload any) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encoding session payload: %w", err)
	}
	return Result{Active: true, Payload: data}, nil
}

// Finish ends the session.
func Finish() Result {
	return Result{}
}

// Decode unmarshals a session payload into v. An empty payload is an error
// so handlers treat missing and corrupt state the same way.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("decoding session payload: empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding session payload: %w", err)
	}
	return nil
}
