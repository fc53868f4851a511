package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first `failures` calls of every operation.
type flakyStore struct {
	failures int
	calls    int
	resets   int
	score    int64
	block    bool
}

var errFlaky = errors.New("connection reset by peer")

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return errFlaky
	}
	return nil
}

func (f *flakyStore) AddScore(_ context.Context, _ string, delta int64) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.score += delta
	return nil
}

func (f *flakyStore) Score(ctx context.Context, _ string) (int64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.score, nil
}

func (f *flakyStore) TopScores(context.Context, int) ([]Entry, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []Entry{{Username: "alice", Score: f.score}}, nil
}

func (*flakyStore) AddGameScore(context.Context, string, string, int64) error { return nil }
func (*flakyStore) GameScore(context.Context, string, string) (int64, error)  { return 0, nil }
func (*flakyStore) UserStats(context.Context, string) ([]GameEntry, error)    { return nil, nil }
func (*flakyStore) TopGame(context.Context, string, int) ([]Entry, error)     { return nil, nil }
func (*flakyStore) SaveState(context.Context, string, []byte) error           { return nil }
func (*flakyStore) LoadState(context.Context, string) ([]byte, error)         { return nil, nil }
func (*flakyStore) Ping(context.Context) error                                { return nil }
func (*flakyStore) Close() error                                              { return nil }
func (f *flakyStore) Reset()                                                  { f.resets++ }

type recorder struct {
	failures  []string
	successes int
}

func (r *recorder) RecordStoreFailure(op string, _ error) { r.failures = append(r.failures, op) }
func (r *recorder) RecordStoreSuccess()                   { r.successes++ }

func TestResilient_RetriesOnceOnFreshConnection(t *testing.T) {
	inner := &flakyStore{failures: 1}
	rec := &recorder{}
	r := NewResilient(inner, rec, time.Second)

	require.NoError(t, r.AddScore(context.Background(), "alice", 50))

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 1, inner.resets)
	assert.Equal(t, int64(50), inner.score)
	assert.Empty(t, rec.failures)
	assert.Equal(t, 1, rec.successes)
}

func TestResilient_ReportsFailureAfterRetry(t *testing.T) {
	inner := &flakyStore{failures: 5}
	rec := &recorder{}
	r := NewResilient(inner, rec, time.Second)

	_, err := r.TopScores(context.Background(), 10)
	require.ErrorIs(t, err, errFlaky)

	assert.Equal(t, 2, inner.calls, "one attempt plus one retry")
	assert.Equal(t, []string{"top_scores"}, rec.failures)
	assert.Zero(t, rec.successes)
}

func TestResilient_Timeout(t *testing.T) {
	inner := &flakyStore{block: true}
	rec := &recorder{}
	r := NewResilient(inner, rec, 10*time.Millisecond)

	start := time.Now()
	_, err := r.Score(context.Background(), "alice")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"score"}, rec.failures)
}

func TestResilient_NilRecorder(t *testing.T) {
	r := NewResilient(&flakyStore{}, nil, 0)

	got, err := r.Score(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestLimitAndNormalizeGame(t *testing.T) {
	assert.Equal(t, DefaultLimit, Limit(0))
	assert.Equal(t, DefaultLimit, Limit(-3))
	assert.Equal(t, 5, Limit(5))
	assert.Equal(t, "mines", NormalizeGame("  Mines "))
}
