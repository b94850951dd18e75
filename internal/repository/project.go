package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/bugtracker/internal/domain"
)

const projectSummarySelect = `
	SELECT p.id, p.name, p.description, p.created_at,
	       (SELECT u.name
	          FROM projects_users_assignments AS pua
	          JOIN users AS u ON u.id = pua.user_id
	         WHERE pua.project_id = p.id AND pua.role = 'project_manager'
	         ORDER BY UPPER(u.name) ASC
	         LIMIT 1) AS manager_name,
	       (SELECT COUNT(*) FROM tickets AS t WHERE t.project_id = p.id) AS ticket_count
	  FROM projects AS p`

// ProjectRepository handles project and assignment data access.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a project.
func (r *ProjectRepository) Create(ctx context.Context, name, description string) (*domain.Project, error) {
	p := domain.Project{Name: name, Description: description, CreatedAt: time.Now().UTC()}
	q := conn(ctx, r.db)
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO projects (name, description, created_at) VALUES (?, ?, ?) RETURNING id`),
		p.Name, p.Description, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return nil, mapWriteError(err, "create project")
	}
	return &p, nil
}

// FindByID retrieves a project by ID.
func (r *ProjectRepository) FindByID(ctx context.Context, id int64) (*domain.Project, error) {
	var p domain.Project
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &p,
		q.Rebind(`SELECT id, name, description, created_at FROM projects WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find project by id %d: %w", id, err)
	}
	return &p, nil
}

// FindSummary retrieves a project with its manager and ticket count.
func (r *ProjectRepository) FindSummary(ctx context.Context, id int64) (*domain.ProjectSummary, error) {
	var p domain.ProjectSummary
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(projectSummarySelect+` WHERE p.id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find project summary %d: %w", id, err)
	}
	return &p, nil
}

// List returns every project ordered by name.
func (r *ProjectRepository) List(ctx context.Context) ([]domain.ProjectSummary, error) {
	projects := []domain.ProjectSummary{}
	q := conn(ctx, r.db)
	if err := sqlx.SelectContext(ctx, q, &projects, projectSummarySelect+` ORDER BY UPPER(p.name) ASC`); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// ListForUser returns the projects userID is assigned to.
func (r *ProjectRepository) ListForUser(ctx context.Context, userID int64) ([]domain.ProjectSummary, error) {
	projects := []domain.ProjectSummary{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &projects, q.Rebind(projectSummarySelect+`
		 WHERE p.id IN (SELECT project_id FROM projects_users_assignments WHERE user_id = ?)
		 ORDER BY UPPER(p.name) ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list projects for user %d: %w", userID, err)
	}
	return projects, nil
}

// IsNameUnique reports whether no project other than exceptID is called name.
func (r *ProjectRepository) IsNameUnique(ctx context.Context, name string, exceptID int64) (bool, error) {
	var count int64
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &count,
		q.Rebind(`SELECT COUNT(*) FROM projects WHERE name = ? AND id <> ?`), name, exceptID)
	if err != nil {
		return false, fmt.Errorf("project name check: %w", err)
	}
	return count == 0, nil
}

// Update changes a project's name and description.
func (r *ProjectRepository) Update(ctx context.Context, id int64, name, description string) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE projects SET name = ?, description = ? WHERE id = ?`), name, description, id)
	if err != nil {
		return 0, mapWriteError(err, "update project")
	}
	return rowsAffected(res, "update project")
}

// Delete removes a project and its assignments.
func (r *ProjectRepository) Delete(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx,
			q.Rebind(`DELETE FROM projects_users_assignments WHERE project_id = ?`), id); err != nil {
			return fmt.Errorf("delete project assignments: %w", err)
		}
		res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM projects WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		n, err = rowsAffected(res, "delete project")
		return err
	})
	return n, err
}

// Assignees returns the users assigned to a project with their
// role-at-assignment.
func (r *ProjectRepository) Assignees(ctx context.Context, projectID int64) ([]domain.Assignee, error) {
	assignees := []domain.Assignee{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &assignees, q.Rebind(
		`SELECT u.id AS user_id, u.name, u.email, pua.role
		   FROM projects_users_assignments AS pua
		   JOIN users AS u ON u.id = pua.user_id
		  WHERE pua.project_id = ?
		  ORDER BY UPPER(u.name) ASC`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list assignees of project %d: %w", projectID, err)
	}
	return assignees, nil
}

// AssignedProjectIDs returns the projects userID is assigned to.
func (r *ProjectRepository) AssignedProjectIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(
		`SELECT project_id FROM projects_users_assignments WHERE user_id = ? ORDER BY project_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("assigned projects of user %d: %w", userID, err)
	}
	return ids, nil
}

// IsAssigned reports whether userID is assigned to projectID.
func (r *ProjectRepository) IsAssigned(ctx context.Context, projectID, userID int64) (bool, error) {
	var count int64
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &count, q.Rebind(
		`SELECT COUNT(*) FROM projects_users_assignments WHERE project_id = ? AND user_id = ?`), projectID, userID)
	if err != nil {
		return false, fmt.Errorf("assignment check: %w", err)
	}
	return count > 0, nil
}

// Assign adds one assignment.
func (r *ProjectRepository) Assign(ctx context.Context, a domain.Assignment) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO projects_users_assignments (project_id, user_id, role) VALUES (?, ?, ?)`),
		a.ProjectID, a.UserID, a.Role)
	if err != nil {
		return mapWriteError(err, "assign user")
	}
	return nil
}

// Unassign removes one assignment.
func (r *ProjectRepository) Unassign(ctx context.Context, projectID, userID int64) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, q.Rebind(
		`DELETE FROM projects_users_assignments WHERE project_id = ? AND user_id = ?`), projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("unassign user: %w", err)
	}
	return rowsAffected(res, "unassign user")
}

// ReplaceAssignments makes assignments the complete assignee set of a
// project: users not yet assigned are added, users missing from the list are
// removed, and everyone else is left untouched.
func (r *ProjectRepository) ReplaceAssignments(ctx context.Context, projectID int64, assignments []domain.Assignment) (added, removed int, err error) {
	err = runInTx(ctx, r.db, func(ctx context.Context) error {
		current, err := r.Assignees(ctx, projectID)
		if err != nil {
			return err
		}

		wanted := make(map[int64]domain.Assignment, len(assignments))
		for _, a := range assignments {
			a.ProjectID = projectID
			wanted[a.UserID] = a
		}

		existing := make(map[int64]bool, len(current))
		for _, c := range current {
			existing[c.UserID] = true
			if _, keep := wanted[c.UserID]; keep {
				continue
			}
			if _, err := r.Unassign(ctx, projectID, c.UserID); err != nil {
				return err
			}
			removed++
		}

		for _, a := range assignments {
			if existing[a.UserID] {
				continue
			}
			existing[a.UserID] = true
			if err := r.Assign(ctx, wanted[a.UserID]); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}
