// Package memory provides an in-process store for development and tests.
// Nothing survives a restart.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/txn2/room-engine/pkg/store"
)

type gameKey struct {
	user string
	game string
}

// Store implements store.Store using maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	scores map[string]int64
	games  map[gameKey]int64
	state  map[string][]byte
}

// New creates an empty store.
func New() *Store {
	return &Store{
		scores: make(map[string]int64),
		games:  make(map[gameKey]int64),
		state:  make(map[string][]byte),
	}
}

// AddScore implements store.Scores.
func (s *Store) AddScore(_ context.Context, user string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores[user] += delta
	return nil
}

// Score implements store.Scores.
func (s *Store) Score(_ context.Context, user string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scores[user], nil
}

// TopScores implements store.Scores.
func (s *Store) TopScores(_ context.Context, limit int) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]store.Entry, 0, len(s.scores))
	for user, score := range s.scores {
		entries = append(entries, store.Entry{Username: user, Score: score})
	}
	return top(entries, limit), nil
}

// AddGameScore implements store.GameStats.
func (s *Store) AddGameScore(_ context.Context, user, game string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.games[gameKey{user: user, game: store.NormalizeGame(game)}] += delta
	return nil
}

// GameScore implements store.GameStats.
func (s *Store) GameScore(_ context.Context, user, game string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.games[gameKey{user: user, game: store.NormalizeGame(game)}], nil
}

// UserStats implements store.GameStats.
func (s *Store) UserStats(_ context.Context, user string) ([]store.GameEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats []store.GameEntry
	for k, score := range s.games {
		if k.user == user {
			stats = append(stats, store.GameEntry{Game: k.game, Score: score})
		}
	}
	slices.SortFunc(stats, func(a, b store.GameEntry) int {
		return cmp.Compare(a.Game, b.Game)
	})
	return stats, nil
}

// TopGame implements store.GameStats.
func (s *Store) TopGame(_ context.Context, game string, limit int) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game = store.NormalizeGame(game)
	var entries []store.Entry
	for k, score := range s.games {
		if k.game == game {
			entries = append(entries, store.Entry{Username: k.user, Score: score})
		}
	}
	return top(entries, limit), nil
}

// SaveState implements store.StateStore.
func (s *Store) SaveState(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[key] = bytes.Clone(data)
	return nil
}

// LoadState implements store.StateStore.
func (s *Store) LoadState(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(data), nil
}

// Ping implements store.Store.
func (*Store) Ping(context.Context) error {
	return nil
}

// Close implements store.Store.
func (*Store) Close() error {
	return nil
}

// top orders entries best first, ties by name, and truncates to limit.
func top(entries []store.Entry, limit int) []store.Entry {
	slices.SortFunc(entries, func(a, b store.Entry) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.Username, b.Username))
	})
	if n := store.Limit(limit); len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Verify interface compliance.
var _ store.Store = (*Store)(nil)
