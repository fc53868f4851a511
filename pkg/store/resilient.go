package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxTries is the initial attempt plus one retry on a fresh connection.
const maxTries = 2

// HealthRecorder receives the outcome of every store operation.
type HealthRecorder interface {
	RecordStoreFailure(op string, err error)
	RecordStoreSuccess()
}

// Resilient wraps a Store so that every operation carries a timeout, is
// retried once after the pooled connections are reset, and reports its
// outcome to a HealthRecorder. It is safe for concurrent use when the
// wrapped store is.
type Resilient struct {
	inner   Store
	health  HealthRecorder
	timeout time.Duration
}

// NewResilient wraps inner. A zero timeout disables per-operation deadlines.
func NewResilient(inner Store, health HealthRecorder, timeout time.Duration) *Resilient {
	return &Resilient{inner: inner, health: health, timeout: timeout}
}

func do[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		opCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return fn(opCtx)
	}

	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, _ time.Duration) {
			slog.Warn("store operation failed, retrying on a fresh connection", "op", op, "error", err)
			if rs, ok := r.inner.(Resetter); ok {
				rs.Reset()
			}
		}),
	)
	if err != nil {
		if r.health != nil {
			r.health.RecordStoreFailure(op, err)
		}
		var zero T
		return zero, err
	}
	if r.health != nil {
		r.health.RecordStoreSuccess()
	}
	return res, nil
}

func exec(ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) error) error {
	_, err := do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// AddScore implements Scores.
func (r *Resilient) AddScore(ctx context.Context, user string, delta int64) error {
	return exec(ctx, r, "add_score", func(ctx context.Context) error {
		return r.inner.AddScore(ctx, user, delta)
	})
}

// Score implements Scores.
func (r *Resilient) Score(ctx context.Context, user string) (int64, error) {
	return do(ctx, r, "score", func(ctx context.Context) (int64, error) {
		return r.inner.Score(ctx, user)
	})
}

// TopScores implements Scores.
func (r *Resilient) TopScores(ctx context.Context, limit int) ([]Entry, error) {
	return do(ctx, r, "top_scores", func(ctx context.Context) ([]Entry, error) {
		return r.inner.TopScores(ctx, limit)
	})
}

// AddGameScore implements GameStats.
func (r *Resilient) AddGameScore(ctx context.Context, user, game string, delta int64) error {
	return exec(ctx, r, "add_game_score", func(ctx context.Context) error {
		return r.inner.AddGameScore(ctx, user, game, delta)
	})
}

// GameScore implements GameStats.
func (r *Resilient) GameScore(ctx context.Context, user, game string) (int64, error) {
	return do(ctx, r, "game_score", func(ctx context.Context) (int64, error) {
		return r.inner.GameScore(ctx, user, game)
	})
}

// UserStats implements GameStats.
func (r *Resilient) UserStats(ctx context.Context, user string) ([]GameEntry, error) {
	return do(ctx, r, "user_stats", func(ctx context.Context) ([]GameEntry, error) {
		return r.inner.UserStats(ctx, user)
	})
}

// TopGame implements GameStats.
func (r *Resilient) TopGame(ctx context.Context, game string, limit int) ([]Entry, error) {
	return do(ctx, r, "top_game", func(ctx context.Context) ([]Entry, error) {
		return r.inner.TopGame(ctx, game, limit)
	})
}

// SaveState implements StateStore.
func (r *Resilient) SaveState(ctx context.Context, key string, data []byte) error {
	return exec(ctx, r, "save_state", func(ctx context.Context) error {
		return r.inner.SaveState(ctx, key, data)
	})
}

// LoadState implements StateStore.
func (r *Resilient) LoadState(ctx context.Context, key string) ([]byte, error) {
	return do(ctx, r, "load_state", func(ctx context.Context) ([]byte, error) {
		return r.inner.LoadState(ctx, key)
	})
}

// Ping implements Store.
func (r *Resilient) Ping(ctx context.Context) error {
	return exec(ctx, r, "ping", r.inner.Ping)
}

// Close implements Store.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

// Verify interface compliance.
var _ Store = (*Resilient)(nil)
