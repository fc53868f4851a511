// Package store defines the durable store used for score records, per-game
// statistics and the persisted state snapshot.
package store

import (
	"context"
	"strings"
)

// Entry is one leaderboard row.
type Entry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// GameEntry is one per-game statistic for a user.
type GameEntry struct {
	Game  string `json:"game"`
	Score int64  `json:"score"`
}

// Scores holds the global per-user score.
type Scores interface {
	// AddScore atomically adds delta to the user's score, creating the
	// record when absent.
	AddScore(ctx context.Context, user string, delta int64) error

	// Score returns the user's score, or 0 when the user has none.
	Score(ctx context.Context, user string) (int64, error)

	// TopScores returns the highest scores, best first.
	TopScores(ctx context.Context, limit int) ([]Entry, error)
}

// GameStats holds per-(user, game) scores.
type GameStats interface {
	// AddGameScore atomically adds delta to the user's score for game,
	// creating the record when absent.
	AddGameScore(ctx context.Context, user, game string, delta int64) error

	// GameScore returns the user's score for game, or 0.
	GameScore(ctx context.Context, user, game string) (int64, error)

	// UserStats returns every game score recorded for the user.
	UserStats(ctx context.Context, user string) ([]GameEntry, error)

	// TopGame returns the highest scores for game, best first.
	TopGame(ctx context.Context, game string, limit int) ([]Entry, error)
}

// StateStore holds opaque records keyed by name.
type StateStore interface {
	// SaveState overwrites the record stored under key.
	SaveState(ctx context.Context, key string, data []byte) error

	// LoadState returns the record stored under key. Returns nil, nil when
	// no record exists.
	LoadState(ctx context.Context, key string) ([]byte, error)
}

// Store is the complete durable store.
type Store interface {
	Scores
	GameStats
	StateStore

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Resetter is implemented by stores that can drop pooled connections so the
// next operation uses a fresh one.
type Resetter interface {
	Reset()
}

// DefaultLimit is used when a leaderboard is requested without a limit.
const DefaultLimit = 10

// NormalizeGame returns the canonical form of a game name.
func NormalizeGame(game string) string {
	return strings.ToLower(strings.TrimSpace(game))
}

// Limit returns limit, or DefaultLimit when limit is not positive.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
