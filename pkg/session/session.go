// Package session holds the in-memory session table: one interactive
// plugin session per (room, user), the process-wide global data shared by
// all plugins, and the snapshot codec used for crash recovery.
package session

import (
	"bytes"
	"encoding/json"
	"time"
)

// Key identifies a session. It is comparable and used directly as the
// table key, so room and user values never need escaping.
type Key struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// String renders the key for logs.
func (k Key) String() string {
	return k.Room + "/" + k.User
}

// Session represents one user's in-progress interaction with one plugin in
// one room.
type Session struct {
	Key

	// Active is always true for sessions held by the table. A session
	// stored with Active false is removed.
	Active bool `json:"active"`

	// HandlerID is the trigger of the plugin that owns the session.
	HandlerID string `json:"handler"`

	// LastActivity is when the session last accepted a message.
	LastActivity time.Time `json:"last_activity"`

	// Payload is plugin-private state. The table never inspects it.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// clone returns a copy that shares no memory with s.
func (s Session) clone() Session {
	if s.Payload != nil {
		s.Payload = bytes.Clone(s.Payload)
	}
	return s
}
