// Package sqlstore implements the durable store on database/sql for
// PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/room-engine/pkg/store"
)

const (
	usersTable = "users"
	gamesTable = "game_stats"
	stateTable = "persisted_state"
)

// Dialect holds the SQL that differs between database engines.
type Dialect struct {
	Name        string
	placeholder sq.PlaceholderFormat

	// Upsert suffixes. PostgreSQL requires the existing row to be qualified
	// by table name; SQLite resolves unqualified columns to it.
	scoreConflict string
	gameConflict  string
	stateConflict string

	// singleConn dialects run on one pooled connection that must never be
	// dropped. For an in-memory SQLite database it is the database.
	singleConn bool
}

// Postgres is the PostgreSQL dialect.
var Postgres = Dialect{
	Name:          "postgres",
	placeholder:   sq.Dollar,
	scoreConflict: "ON CONFLICT (username) DO UPDATE SET score = users.score + EXCLUDED.score",
	gameConflict:  "ON CONFLICT (username, game_name) DO UPDATE SET score = game_stats.score + EXCLUDED.score",
	stateConflict: "ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at",
}

// SQLite is the SQLite dialect.
var SQLite = Dialect{
	Name:          "sqlite3",
	placeholder:   sq.Question,
	scoreConflict: "ON CONFLICT (username) DO UPDATE SET score = score + excluded.score",
	gameConflict:  "ON CONFLICT (username, game_name) DO UPDATE SET score = score + excluded.score",
	stateConflict: "ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at",
	singleConn:    true,
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("no SQL dialect for driver %q", driver)
	}
}

// Store implements store.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	maxIdle int
	now     func() time.Time
}

// New creates a store on db. maxIdle is the idle pool size restored after
// Reset.
func New(db *sql.DB, dialect Dialect, maxIdle int) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.placeholder),
		maxIdle: maxIdle,
		now:     time.Now,
	}
}

// AddScore implements store.Scores.
func (s *Store) AddScore(ctx context.Context, user string, delta int64) error {
	query, args, err := s.sb.Insert(usersTable).
		Columns("username", "score").
		Values(user, delta).
		Suffix(s.dialect.scoreConflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("adding score: %w", err)
	}
	return nil
}

// Score implements store.Scores.
func (s *Store) Score(ctx context.Context, user string) (int64, error) {
	query, args, err := s.sb.Select("score").
		From(usersTable).
		Where(sq.Eq{"username": user}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}

	return s.scanScore(ctx, query, args)
}

// TopScores implements store.Scores.
func (s *Store) TopScores(ctx context.Context, limit int) ([]store.Entry, error) {
	query, args, err := s.sb.Select("username", "score").
		From(usersTable).
		OrderBy("score DESC", "username").
		Limit(uint64(store.Limit(limit))). // #nosec G115 -- Limit is always positive
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	return s.queryEntries(ctx, query, args)
}

// AddGameScore implements store.GameStats.
func (s *Store) AddGameScore(ctx context.Context, user, game string, delta int64) error {
	query, args, err := s.sb.Insert(gamesTable).
		Columns("username", "game_name", "score").
		Values(user, store.NormalizeGame(game), delta).
		Suffix(s.dialect.gameConflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("adding game score: %w", err)
	}
	return nil
}

// GameScore implements store.GameStats.
func (s *Store) GameScore(ctx context.Context, user, game string) (int64, error) {
	query, args, err := s.sb.Select("score").
		From(gamesTable).
		Where(sq.Eq{"username": user, "game_name": store.NormalizeGame(game)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}

	return s.scanScore(ctx, query, args)
}

// UserStats implements store.GameStats.
func (s *Store) UserStats(ctx context.Context, user string) ([]store.GameEntry, error) {
	query, args, err := s.sb.Select("game_name", "score").
		From(gamesTable).
		Where(sq.Eq{"username": user}).
		OrderBy("game_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying user stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []store.GameEntry
	for rows.Next() {
		var e store.GameEntry
		if err := rows.Scan(&e.Game, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning user stats: %w", err)
		}
		stats = append(stats, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user stats: %w", err)
	}
	return stats, nil
}

// TopGame implements store.GameStats.
func (s *Store) TopGame(ctx context.Context, game string, limit int) ([]store.Entry, error) {
	query, args, err := s.sb.Select("username", "score").
		From(gamesTable).
		Where(sq.Eq{"game_name": store.NormalizeGame(game)}).
		OrderBy("score DESC", "username").
		Limit(uint64(store.Limit(limit))). // #nosec G115 -- Limit is always positive
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	return s.queryEntries(ctx, query, args)
}

// SaveState implements store.StateStore.
func (s *Store) SaveState(ctx context.Context, key string, data []byte) error {
	query, args, err := s.sb.Insert(stateTable).
		Columns("key", "data", "updated_at").
		Values(key, string(data), s.now().UTC()).
		Suffix(s.dialect.stateConflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving state %s: %w", key, err)
	}
	return nil
}

// LoadState implements store.StateStore.
func (s *Store) LoadState(ctx context.Context, key string) ([]byte, error) {
	query, args, err := s.sb.Select("data").
		From(stateTable).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state %s: %w", key, err)
	}
	return data, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Reset implements store.Resetter by closing idle connections, so the next
// operation dials a fresh one. It does nothing on single-connection dialects.
func (s *Store) Reset() {
	if s.dialect.singleConn {
		return
	}
	s.db.SetMaxIdleConns(0)
	s.db.SetMaxIdleConns(s.maxIdle)
}

func (s *Store) scanScore(ctx context.Context, query string, args []any) (int64, error) {
	var score int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying score: %w", err)
	}
	return score, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args []any) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Username, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning leaderboard: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leaderboard: %w", err)
	}
	return entries, nil
}

// Verify interface compliance.
var (
	_ store.Store    = (*Store)(nil)
	_ store.Resetter = (*Store)(nil)
)
