package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sumire/bugtracker/internal/domain"
)

// ProjectStore defines the project data access interface consumed by the services.
type ProjectStore interface {
	Create(ctx context.Context, name, description string) (*domain.Project, error)
	FindByID(ctx context.Context, id int64) (*domain.Project, error)
	FindSummary(ctx context.Context, id int64) (*domain.ProjectSummary, error)
	List(ctx context.Context) ([]domain.ProjectSummary, error)
	ListForUser(ctx context.Context, userID int64) ([]domain.ProjectSummary, error)
	IsNameUnique(ctx context.Context, name string, exceptID int64) (bool, error)
	Update(ctx context.Context, id int64, name, description string) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	Assignees(ctx context.Context, projectID int64) ([]domain.Assignee, error)
	AssignedProjectIDs(ctx context.Context, userID int64) ([]int64, error)
	IsAssigned(ctx context.Context, projectID, userID int64) (bool, error)
	Assign(ctx context.Context, a domain.Assignment) error
	ReplaceAssignments(ctx context.Context, projectID int64, assignments []domain.Assignment) (added, removed int, err error)
}

const msgProjectNameInUse = "That project name is already in use. A project name must be unique."

// ProjectDetail is everything shown on a project page.
type ProjectDetail struct {
	Project   domain.ProjectSummary
	Assignees []domain.Assignee
	Tickets   []domain.TicketView
}

// ProjectService manages projects and their assignments.
type ProjectService struct {
	projects ProjectStore
	tickets  TicketStore
	users    UserStore
	tx       TxRunner
}

// NewProjectService creates a new ProjectService.
func NewProjectService(projects ProjectStore, tickets TicketStore, users UserStore, tx TxRunner) *ProjectService {
	return &ProjectService{projects: projects, tickets: tickets, users: users, tx: tx}
}

// List returns every project for admins and the assigned ones for
// everybody else.
func (s *ProjectService) List(ctx context.Context, p domain.Principal) ([]domain.ProjectSummary, error) {
	if p.IsAdmin() {
		return s.projects.List(ctx)
	}
	return s.projects.ListForUser(ctx, p.UserID)
}

// Get returns a project with its assignees and tickets.
func (s *ProjectService) Get(ctx context.Context, p domain.Principal, id int64) (*ProjectDetail, error) {
	summary, err := s.projects.FindSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, p, id); err != nil {
		return nil, err
	}

	assignees, err := s.projects.Assignees(ctx, id)
	if err != nil {
		return nil, err
	}
	tickets, err := s.tickets.ListForProject(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ProjectDetail{Project: *summary, Assignees: assignees, Tickets: tickets}, nil
}

// Find returns a project the principal may see.
func (s *ProjectService) Find(ctx context.Context, p domain.Principal, id int64) (*domain.Project, error) {
	project, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, p, id); err != nil {
		return nil, err
	}
	return project, nil
}

// Create adds a project. A project manager creating a project is assigned
// to it as its manager.
func (s *ProjectService) Create(ctx context.Context, p domain.Principal, name, description string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if err := s.checkNameFree(ctx, name, 0); err != nil {
		return nil, err
	}

	var project *domain.Project
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		created, err := s.projects.Create(ctx, name, strings.TrimSpace(description))
		if err != nil {
			return err
		}
		if p.Role == domain.RoleProjectManager {
			if err := s.projects.Assign(ctx, domain.Assignment{
				ProjectID: created.ID, UserID: p.UserID, Role: domain.RoleProjectManager,
			}); err != nil {
				return err
			}
		}
		project = created
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewValidationError("name", msgProjectNameInUse)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	slog.Info("project created", "project_id", project.ID, "by", p.UserID)
	return project, nil
}

// Update renames a project and changes its description. Project managers
// must be assigned to the project.
func (s *ProjectService) Update(ctx context.Context, p domain.Principal, id int64, name, description string) error {
	if err := s.checkManage(ctx, p, id); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if err := s.checkNameFree(ctx, name, id); err != nil {
		return err
	}

	n, err := s.projects.Update(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.NewValidationError("name", msgProjectNameInUse)
		}
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ForEdit returns a project the principal may manage with its assignees.
func (s *ProjectService) ForEdit(ctx context.Context, p domain.Principal, id int64) (*domain.Project, []domain.Assignee, error) {
	if err := s.checkManage(ctx, p, id); err != nil {
		return nil, nil, err
	}
	project, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	assignees, err := s.projects.Assignees(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return project, assignees, nil
}

// Assignable returns the users that can be put on a project together with
// the ids currently assigned.
func (s *ProjectService) Assignable(ctx context.Context, p domain.Principal, id int64) ([]domain.User, map[int64]bool, error) {
	if err := s.checkManage(ctx, p, id); err != nil {
		return nil, nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	assignees, err := s.projects.Assignees(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	assigned := make(map[int64]bool, len(assignees))
	for _, a := range assignees {
		assigned[a.UserID] = true
	}
	return users, assigned, nil
}

// ReplaceAssignments makes userIDs the complete assignee set of a project.
// Each user is assigned with the role they currently hold.
func (s *ProjectService) ReplaceAssignments(ctx context.Context, p domain.Principal, id int64, userIDs []int64) (added, removed int, err error) {
	if err := s.checkManage(ctx, p, id); err != nil {
		return 0, 0, err
	}

	assignments := make([]domain.Assignment, 0, len(userIDs))
	seen := make(map[int64]bool, len(userIDs))
	for _, uid := range userIDs {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		user, err := s.users.FindByID(ctx, uid)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return 0, 0, domain.NewValidationError("assigned_users", "Please select valid users.")
			}
			return 0, 0, err
		}
		assignments = append(assignments, domain.Assignment{ProjectID: id, UserID: uid, Role: user.Role})
	}

	added, removed, err = s.projects.ReplaceAssignments(ctx, id, assignments)
	if err != nil {
		return 0, 0, fmt.Errorf("replace assignments of project %d: %w", id, err)
	}

	slog.Info("project assignments replaced", "project_id", id, "added", added, "removed", removed, "by", p.UserID)
	return added, removed, nil
}

// Delete removes a project that owns no tickets.
func (s *ProjectService) Delete(ctx context.Context, p domain.Principal, id int64) error {
	if !p.IsAdmin() {
		return domain.ErrForbidden
	}

	count, err := s.tickets.CountForProject(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.NewValidationError("project", "A project with tickets cannot be deleted.")
	}

	n, err := s.projects.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}

	slog.Info("project deleted", "project_id", id, "by", p.UserID)
	return nil
}

func (s *ProjectService) checkNameFree(ctx context.Context, name string, exceptID int64) error {
	free, err := s.projects.IsNameUnique(ctx, name, exceptID)
	if err != nil {
		return err
	}
	if !free {
		return domain.NewValidationError("name", msgProjectNameInUse)
	}
	return nil
}

// checkAccess allows admins and assigned users.
func (s *ProjectService) checkAccess(ctx context.Context, p domain.Principal, projectID int64) error {
	if p.IsAdmin() {
		return nil
	}
	ok, err := s.projects.IsAssigned(ctx, projectID, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

// checkManage allows admins and project managers assigned to the project.
func (s *ProjectService) checkManage(ctx context.Context, p domain.Principal, projectID int64) error {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return err
	}
	if p.IsAdmin() {
		return nil
	}
	if p.Role != domain.RoleProjectManager {
		return domain.ErrForbidden
	}
	return s.checkAccess(ctx, p, projectID)
}
