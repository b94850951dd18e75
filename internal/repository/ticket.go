package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/bugtracker/internal/domain"
)

const ticketViewSelect = `
	SELECT t.id, t.status, t.title, t.description, t.type, t.priority,
	       t.submitter_id, t.project_id, t.developer_id, t.created_on, t.updated_on,
	       p.name AS project_name,
	       s.name AS submitter_name,
	       d.name AS developer_name
	  FROM tickets AS t
	  JOIN projects AS p ON p.id = t.project_id
	  JOIN users AS s ON s.id = t.submitter_id
	  LEFT JOIN users AS d ON d.id = t.developer_id`

// TicketRepository handles ticket data access.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create inserts a ticket. CreatedOn and UpdatedOn default to now.
func (r *TicketRepository) Create(ctx context.Context, t domain.Ticket) (*domain.Ticket, error) {
	if t.CreatedOn.IsZero() {
		t.CreatedOn = time.Now().UTC()
	}
	if t.UpdatedOn.IsZero() {
		t.UpdatedOn = t.CreatedOn
	}

	q := conn(ctx, r.db)
	err := q.QueryRowxContext(ctx, q.Rebind(
		`INSERT INTO tickets (status, title, description, type, priority, submitter_id, project_id, developer_id, created_on, updated_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		t.Status, t.Title, t.Description, t.Type, t.Priority,
		t.SubmitterID, t.ProjectID, t.DeveloperID, t.CreatedOn, t.UpdatedOn,
	).Scan(&t.ID)
	if err != nil {
		return nil, mapWriteError(err, "create ticket")
	}
	return &t, nil
}

// FindByID retrieves a ticket row by ID.
func (r *TicketRepository) FindByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	var t domain.Ticket
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(
		`SELECT id, status, title, description, type, priority, submitter_id, project_id, developer_id, created_on, updated_on
		   FROM tickets WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find ticket by id %d: %w", id, err)
	}
	return &t, nil
}

// FindView retrieves a ticket with its project and people names.
func (r *TicketRepository) FindView(ctx context.Context, id int64) (*domain.TicketView, error) {
	var t domain.TicketView
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(ticketViewSelect+` WHERE t.id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find ticket view %d: %w", id, err)
	}
	return &t, nil
}

// ListViews returns the tickets matching f, most recently updated first.
func (r *TicketRepository) ListViews(ctx context.Context, f domain.TicketFilter) ([]domain.TicketView, error) {
	tickets := []domain.TicketView{}
	if f.Scoped && len(f.ProjectIDs) == 0 {
		return tickets, nil
	}

	var (
		conds []string
		args  []any
	)
	if f.Scoped {
		conds = append(conds, `t.project_id IN (?)`)
		args = append(args, f.ProjectIDs)
	}
	if f.SubmitterID != 0 {
		conds = append(conds, `t.submitter_id = ?`)
		args = append(args, f.SubmitterID)
	}
	if f.Resolved.Valid {
		if f.Resolved.V {
			conds = append(conds, `t.status = ?`)
		} else {
			conds = append(conds, `t.status <> ?`)
		}
		args = append(args, domain.TicketStatusResolved)
	}
	if f.UnassignedOnly {
		conds = append(conds, `t.developer_id IS NULL`)
	}

	query := ticketViewSelect
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY t.updated_on DESC, t.id DESC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand ticket filter: %w", err)
	}

	q := conn(ctx, r.db)
	if err := sqlx.SelectContext(ctx, q, &tickets, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// ListForProject returns every ticket of a project.
func (r *TicketRepository) ListForProject(ctx context.Context, projectID int64) ([]domain.TicketView, error) {
	return r.ListViews(ctx, domain.TicketFilter{Scoped: true, ProjectIDs: []int64{projectID}})
}

// CountForProject returns how many tickets a project owns.
func (r *TicketRepository) CountForProject(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	q := conn(ctx, r.db)
	if err := sqlx.GetContext(ctx, q, &count,
		q.Rebind(`SELECT COUNT(*) FROM tickets WHERE project_id = ?`), projectID); err != nil {
		return 0, fmt.Errorf("count tickets of project %d: %w", projectID, err)
	}
	return count, nil
}

// Update writes the set fields of changes and stamps updated_on. Columns not
// set in changes are left untouched.
func (r *TicketRepository) Update(ctx context.Context, id int64, changes domain.TicketChanges, at time.Time) (int64, error) {
	fields := changes.Fields()
	if len(fields) == 0 {
		return 0, nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		v, _ := changes.Value(f)
		sets = append(sets, string(f)+` = ?`)
		args = append(args, v)
	}
	sets = append(sets, `updated_on = ?`)
	args = append(args, at.UTC(), id)

	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE tickets SET `+strings.Join(sets, `, `)+` WHERE id = ?`), args...)
	if err != nil {
		return 0, fmt.Errorf("update ticket %d: %w", id, err)
	}
	return rowsAffected(res, "update ticket")
}

// Delete removes a ticket together with its comments, history and
// attachment records.
func (r *TicketRepository) Delete(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		for _, table := range []string{"ticket_comments", "ticket_update_history", "ticket_attachments"} {
			if _, err := q.ExecContext(ctx,
				q.Rebind(`DELETE FROM `+table+` WHERE ticket_id = ?`), id); err != nil {
				return fmt.Errorf("delete %s of ticket %d: %w", table, id, err)
			}
		}
		res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM tickets WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete ticket %d: %w", id, err)
		}
		n, err = rowsAffected(res, "delete ticket")
		return err
	})
	return n, err
}

// OpenCreatedSince returns the creation times of unresolved tickets created
// at or after since. A projectID of 0 covers every project.
func (r *TicketRepository) OpenCreatedSince(ctx context.Context, projectID int64, since time.Time) ([]time.Time, error) {
	return r.timesSince(ctx, `created_on`, `status <> ?`, projectID, since)
}

// ResolvedUpdatedSince returns the last update times of resolved tickets
// updated at or after since. A projectID of 0 covers every project.
func (r *TicketRepository) ResolvedUpdatedSince(ctx context.Context, projectID int64, since time.Time) ([]time.Time, error) {
	return r.timesSince(ctx, `updated_on`, `status = ?`, projectID, since)
}

func (r *TicketRepository) timesSince(ctx context.Context, column, statusCond string, projectID int64, since time.Time) ([]time.Time, error) {
	query := `SELECT ` + column + ` FROM tickets WHERE ` + statusCond + ` AND ` + column + ` >= ?`
	args := []any{domain.TicketStatusResolved, since.UTC()}
	if projectID != 0 {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}

	times := []time.Time{}
	q := conn(ctx, r.db)
	if err := sqlx.SelectContext(ctx, q, &times, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ticket %s times: %w", column, err)
	}
	return times, nil
}
