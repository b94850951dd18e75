// Package testutil opens throwaway SQLite databases carrying the tracker
// schema and seeds them with fixtures.
package testutil

import (
	"context"
	_ "embed"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/sumire/bugtracker/internal/domain"
)

//go:embed testdata/schema.sql
var schemaSQL string

// NewDB opens a fresh SQLite database under t.TempDir with the schema
// applied. It is closed when the test ends.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bugtracker.db")
	db, err := sqlx.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// One connection so a transaction never waits on itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	return db
}

// InsertUser adds a user row directly.
func InsertUser(t *testing.T, db *sqlx.DB, name string, role domain.Role) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowx(
		`INSERT INTO users (name, role, email, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		name, role, name+"@example.com", time.Now().UTC(),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// InsertProject adds a project row directly.
func InsertProject(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowx(
		`INSERT INTO projects (name, description, created_at) VALUES (?, ?, ?) RETURNING id`,
		name, name+" description", time.Now().UTC(),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// Assign adds userID to projectID with the given role.
func Assign(t *testing.T, db *sqlx.DB, projectID, userID int64, role domain.Role) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO projects_users_assignments (project_id, user_id, role) VALUES (?, ?, ?)`,
		projectID, userID, role)
	require.NoError(t, err)
}

// TicketOpts overrides fields of the ticket InsertTicket creates.
type TicketOpts struct {
	Title       string
	Status      domain.TicketStatus
	DeveloperID domain.DeveloperRef
	CreatedOn   time.Time
	UpdatedOn   time.Time
}

// InsertTicket adds a ticket row directly.
func InsertTicket(t *testing.T, db *sqlx.DB, projectID, submitterID int64, opts TicketOpts) int64 {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Unable to login"
	}
	if opts.Status == "" {
		opts.Status = domain.TicketStatusOpen
	}
	if opts.CreatedOn.IsZero() {
		opts.CreatedOn = time.Now().UTC()
	}
	if opts.UpdatedOn.IsZero() {
		opts.UpdatedOn = opts.CreatedOn
	}

	var id int64
	err := db.QueryRowxContext(context.Background(),
		`INSERT INTO tickets (status, title, description, type, priority, submitter_id, project_id, developer_id, created_on, updated_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		opts.Status, opts.Title, "Login page returns 500.", domain.TicketTypeBug, domain.PriorityHigh,
		submitterID, projectID, opts.DeveloperID, opts.CreatedOn.UTC(), opts.UpdatedOn.UTC(),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// Count returns the number of rows in table.
func Count(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}
