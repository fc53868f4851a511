package session

import (
	"sync"
	"time"
)

// Table is the in-memory session map together with the global data. A
// single mutex guards both; every read or write happens inside Do.
type Table struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	global   *Global
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		sessions: make(map[Key]*Session),
		global:   newGlobal(),
	}
}

// Do runs fn with exclusive access to the table. The Tx must not be used
// after fn returns, and fn must not block on the network.
func (t *Table) Do(fn func(tx *Tx)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&Tx{t: t})
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}

// Tx is exclusive access to the table for the duration of one Do call.
type Tx struct {
	t *Table
}

// Get returns a copy of the session stored under key.
func (tx *Tx) Get(key Key) (Session, bool) {
	s, ok := tx.t.sessions[key]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Put stores a copy of s. An inactive session is removed instead, so the
// table never holds an entry with Active false.
func (tx *Tx) Put(s Session) {
	if !s.Active {
		delete(tx.t.sessions, s.Key)
		return
	}
	c := s.clone()
	tx.t.sessions[s.Key] = &c
}

// Delete removes the session stored under key.
func (tx *Tx) Delete(key Key) {
	delete(tx.t.sessions, key)
}

// Len returns the number of live sessions.
func (tx *Tx) Len() int {
	return len(tx.t.sessions)
}

// Range calls fn for a copy of every session until fn returns false.
// Deleting the visited session from within fn is permitted.
func (tx *Tx) Range(fn func(s Session) bool) {
	for _, s := range tx.t.sessions {
		if !fn(s.clone()) {
			return
		}
	}
}

// Idle returns copies of the sessions whose last activity is older than
// timeout at now.
func (tx *Tx) Idle(now time.Time, timeout time.Duration) []Session {
	var idle []Session
	for _, s := range tx.t.sessions {
		if now.Sub(s.LastActivity) > timeout {
			idle = append(idle, s.clone())
		}
	}
	return idle
}

// Global returns the shared global data.
func (tx *Tx) Global() *Global {
	return tx.t.global
}
