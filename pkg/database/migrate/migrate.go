// Package migrate provides database migration support using golang-migrate.
// Each supported driver has its own embedded migration set.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Supported drivers. The names match the database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrations embed.FS

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
}

// migratorFactory builds a migrator for db. Replaced in tests.
var migratorFactory = newMigrator

func newMigrator(db *sql.DB, driverName string) (migrator, error) {
	var (
		driver database.Driver
		err    error
	)
	switch driverName {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s driver: %w", driverName, err)
	}

	source, err := iofs.New(migrations, "migrations/"+driverName)
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// Run executes all pending migrations for the driver.
// Already applied migrations are skipped.
func Run(db *sql.DB, driverName string) error {
	m, err := migratorFactory(db, driverName)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting migration version: %w", err)
	}

	if dirty {
		slog.Warn("database migration state is dirty", "driver", driverName, "version", version)
	} else {
		slog.Info("database migrations complete", "driver", driverName, "version", version)
	}

	return nil
}

// Version returns the current migration version.
func Version(db *sql.DB, driverName string) (uint, bool, error) {
	m, err := migratorFactory(db, driverName)
	if err != nil {
		return 0, false, err
	}
	return m.Version()
}

// Down rolls back all migrations. This destroys all data.
func Down(db *sql.DB, driverName string) error {
	m, err := migratorFactory(db, driverName)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Steps applies n migrations (positive = up, negative = down).
func Steps(db *sql.DB, driverName string, n int) error {
	m, err := migratorFactory(db, driverName)
	if err != nil {
		return err
	}

	if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("stepping migrations: %w", err)
	}
	return nil
}
