package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Migrator applies the embedded schema migrations for one dialect.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens its own connection to dsn. Close releases it.
func NewMigrator(d Dialect, dsn string) (*Migrator, error) {
	if d != DialectSQLite && d != DialectPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, d)
	}
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	source, err := iofs.New(migrations, "migrations/"+string(d))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var m *migrate.Migrate
	switch d {
	case DialectSQLite:
		drv, derr := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if derr != nil {
			db.Close()
			return nil, fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", drv)
	case DialectPostgres:
		drv, derr := migratepgx.WithInstance(db, &migratepgx.Config{})
		if derr != nil {
			db.Close()
			return nil, fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "pgx5", drv)
	default:
		db.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, d)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down reverts all migrations.
func (g *Migrator) Down() error {
	if err := g.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Steps applies n migrations, reverting when n is negative.
func (g *Migrator) Steps(n int) error {
	if err := g.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate steps %d: %w", n, err)
	}
	return nil
}

// Force sets the recorded version without running migrations and clears
// the dirty flag.
func (g *Migrator) Force(version int) error {
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("migrate force %d: %w", version, err)
	}
	return nil
}

// Version reports the applied schema version. A database without
// migrations reports version 0.
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the migrator's connection.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Migrate applies all pending migrations to dsn.
func Migrate(d Dialect, dsn string) error {
	g, err := NewMigrator(d, dsn)
	if err != nil {
		return err
	}
	upErr := g.Up()
	return errors.Join(upErr, g.Close())
}
