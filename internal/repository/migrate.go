package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded goose migrations to a PostgreSQL database.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return &Migrator{db: db}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	from, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	if err := goose.Up(m.db, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	to, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("get final version: %w", err)
	}

	slog.Info("migrations applied", "from_version", from, "to_version", to)
	return nil
}

// Down rolls back steps migrations.
func (m *Migrator) Down(steps int) error {
	for i := 0; i < steps; i++ {
		if err := goose.Down(m.db, migrationsDir); err != nil {
			return fmt.Errorf("run down migration: %w", err)
		}
	}
	slog.Info("migrations rolled back", "steps", steps)
	return nil
}

// Status prints the state of every migration and logs the current version.
func (m *Migrator) Status() error {
	if err := goose.Status(m.db, migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	v, err := m.Version()
	if err != nil {
		return err
	}
	slog.Info("schema version", "version", v)
	return nil
}

// Version returns the current schema version.
func (m *Migrator) Version() (int64, error) {
	v, err := goose.GetDBVersion(m.db)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}
