package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/session"
	"github.com/txn2/room-engine/pkg/store"
)

// EvictionNotice is sent to the room when a session times out. It receives
// the user name and the plugin trigger.
const EvictionNotice = "⌛ @%s, your %s game timed out and was closed."

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, m protocol.Message) error
}

// Pruner drops bookkeeping that no longer matters at now.
type Pruner interface {
	Prune(now time.Time) int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	SnapshotInterval time.Duration
	SnapshotKey      string
	NotifyOnEvict    bool
}

// Manager evicts idle sessions, snapshots the table and restores it at
// startup.
type Manager struct {
	table  *session.Table
	store  store.StateStore
	sender Sender
	pruner Pruner
	cfg    ManagerConfig
	now    func() time.Time
}

// NewManager creates a manager. sender and pruner may be nil.
func NewManager(table *session.Table, st store.StateStore, sender Sender, pruner Pruner, cfg ManagerConfig) *Manager {
	return &Manager{
		table:  table,
		store:  st,
		sender: sender,
		pruner: pruner,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Restore loads the last snapshot into the table and returns the number of
// sessions restored. A missing record is a cold start, not an error.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	data, err := m.store.LoadState(ctx, m.cfg.SnapshotKey)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}
	if data == nil {
		slog.Info("no snapshot found, starting cold", activity.KindKey, activity.KindSystem)
		return 0, nil
	}

	snap, err := m.table.Restore(data)
	if err != nil {
		return 0, err
	}

	n := m.table.Len()
	slog.Info("sessions restored", activity.KindKey, activity.KindSystem,
		"snapshot", snap.ID, "taken_at", snap.TakenAt, "sessions", n)
	return n, nil
}

// Sweep removes sessions idle longer than the timeout at now and returns
// their keys. Notices are sent after the table lock is released.
func (m *Manager) Sweep(ctx context.Context, now time.Time) []session.Key {
	var evicted []session.Session
	m.table.Do(func(tx *session.Tx) {
		evicted = tx.Idle(now, m.cfg.IdleTimeout)
		for _, s := range evicted {
			tx.Delete(s.Key)
		}
	})

	if m.pruner != nil {
		m.pruner.Prune(now)
	}

	keys := make([]session.Key, 0, len(evicted))
	for _, s := range evicted {
		keys = append(keys, s.Key)
		slog.Info("session evicted", activity.KindKey, activity.KindSystem,
			"session", s.Key, "plugin", s.HandlerID, "idle", now.Sub(s.LastActivity).Round(time.Second))

		if !m.cfg.NotifyOnEvict || m.sender == nil {
			continue
		}
		msg := protocol.SendText(s.Room, fmt.Sprintf(EvictionNotice, s.User, s.HandlerID))
		if err := m.sender.Send(ctx, msg); err != nil {
			slog.Warn("eviction notice failed", "session", s.Key, "error", err)
		}
	}
	return keys
}

// SnapshotOnce writes the whole table to the store. The table is encoded
// under its lock; the write happens after it is released.
func (m *Manager) SnapshotOnce(ctx context.Context) error {
	snap, data, err := m.table.Snapshot(m.now())
	if err != nil {
		slog.Error("snapshot encoding failed", activity.KindKey, activity.KindError, "error", err)
		return err
	}

	if err := m.store.SaveState(ctx, m.cfg.SnapshotKey, data); err != nil {
		slog.Error("snapshot write failed", activity.KindKey, activity.KindError,
			"snapshot", snap.ID, "error", err)
		return fmt.Errorf("saving snapshot: %w", err)
	}

	slog.Debug("snapshot saved", "snapshot", snap.ID, "sessions", len(snap.Sessions), "bytes", len(data))
	return nil
}

// RunEviction sweeps on every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx, m.now())
		}
	}
}

// RunSnapshots snapshots on every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (m *Manager) RunSnapshots(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = m.SnapshotOnce(ctx)
		}
	}
}
