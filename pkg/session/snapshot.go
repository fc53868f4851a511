package session

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the serialized form of the whole table.
type Snapshot struct {
	ID       string                     `json:"id"`
	TakenAt  time.Time                  `json:"taken_at"`
	Sessions []Session                  `json:"sessions"`
	Global   map[string]json.RawMessage `json:"global"`
}

// Snapshot serializes every session and the global data as one unit while
// the guard is held. Encoding happens inside the critical section; writing
// the bytes anywhere is left to the caller.
func (t *Table) Snapshot(now time.Time) (Snapshot, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ID:       uuid.NewString(),
		TakenAt:  now,
		Sessions: make([]Session, 0, len(t.sessions)),
		Global:   maps.Clone(t.global.values),
	}
	for _, s := range t.sessions {
		snap.Sessions = append(snap.Sessions, *s)
	}
	slices.SortFunc(snap.Sessions, func(a, b Session) int {
		return cmp.Or(cmp.Compare(a.Room, b.Room), cmp.Compare(a.User, b.User))
	})

	data, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return snap, data, nil
}

// Restore replaces the table contents with a decoded snapshot. Inactive or
// ownerless records are dropped.
func (t *Table) Restore(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions = make(map[Key]*Session, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if !s.Active || s.HandlerID == "" {
			continue
		}
		c := s.clone()
		t.sessions[s.Key] = &c
	}

	t.global = newGlobal()
	for k, v := range snap.Global {
		t.global.values[k] = v
	}
	return snap, nil
}
