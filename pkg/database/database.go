// Package database opens the SQL connection pool backing the durable store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/database/migrate"
)

const connMaxIdleTime = 5 * time.Minute

// Open opens a bounded pool for cfg, verifies it is reachable and applies
// pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres, config.DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	Configure(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate.Run(db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	slog.Info("database ready", "driver", cfg.Driver,
		"max_open_conns", maxOpen(cfg), "max_idle_conns", cfg.MaxIdleConns)
	return db, nil
}

// Configure applies the pool bounds from cfg to db.
func Configure(db *sql.DB, cfg config.DatabaseConfig) {
	db.SetMaxOpenConns(maxOpen(cfg))
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
}

// maxOpen returns the open connection bound. SQLite allows a single writer,
// so its pool is capped at one connection.
func maxOpen(cfg config.DatabaseConfig) int {
	if cfg.Driver == config.DriverSQLite {
		return 1
	}
	return cfg.MaxOpenConns
}
