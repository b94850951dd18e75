package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
)

type projectForm struct {
	Name        string `form:"name" validate:"notblank,max=100"`
	Description string `form:"description" validate:"notblank,max=300"`
}

type assignForm struct {
	UserIDs []int64 `form:"assigned_users"`
}

type projectFormData struct {
	ProjectID int64
	Assignees []domain.Assignee
}

type projectUsersData struct {
	Project  *domain.Project
	Users    []domain.User
	Assigned map[int64]bool
}

// ProjectHandler handles project pages.
type ProjectHandler struct {
	projects *service.ProjectService
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// List renders the projects visible to the user.
func (h *ProjectHandler) List(c echo.Context) error {
	projects, err := h.projects.List(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	page := newPage(c, "My Projects")
	page.Data = projects
	return c.Render(http.StatusOK, "projects", page)
}

// Show renders a project with its assignees and tickets.
func (h *ProjectHandler) Show(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	detail, err := h.projects.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return err
	}
	page := newPage(c, detail.Project.Name)
	page.Data = detail
	return c.Render(http.StatusOK, "project", page)
}

// New renders the create project form.
func (h *ProjectHandler) New(c echo.Context) error {
	page := newPage(c, "Create Project")
	page.Form = projectForm{}
	page.Data = projectFormData{}
	return c.Render(http.StatusOK, "project_form", page)
}

// Create adds a project.
func (h *ProjectHandler) Create(c echo.Context) error {
	var form projectForm
	if err := c.Bind(&form); err != nil {
		return err
	}

	page := newPage(c, "Create Project")
	page.Form = form
	page.Data = projectFormData{}
	if err := c.Validate(form); err != nil {
		return renderFormError(c, "project_form", page, err)
	}

	project, err := h.projects.Create(c.Request().Context(), principal(c), form.Name, form.Description)
	if err != nil {
		return renderFormError(c, "project_form", page, err)
	}
	return redirectWithFlash(c, fmt.Sprintf("/projects/%d", project.ID),
		session.FlashSuccess, "You have successfully submitted a new project.")
}

// Edit renders the edit project form.
func (h *ProjectHandler) Edit(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	project, assignees, err := h.projects.ForEdit(c.Request().Context(), principal(c), id)
	if err != nil {
		return err
	}
	page := newPage(c, "Edit Project")
	page.Form = projectForm{Name: project.Name, Description: project.Description}
	page.Data = projectFormData{ProjectID: id, Assignees: assignees}
	return c.Render(http.StatusOK, "project_form", page)
}

// Update changes a project's name and description.
func (h *ProjectHandler) Update(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	_, assignees, err := h.projects.ForEdit(ctx, principal(c), id)
	if err != nil {
		return err
	}

	var form projectForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	page := newPage(c, "Edit Project")
	page.Form = form
	page.Data = projectFormData{ProjectID: id, Assignees: assignees}
	if err := c.Validate(form); err != nil {
		return renderFormError(c, "project_form", page, err)
	}

	if err := h.projects.Update(ctx, principal(c), id, form.Name, form.Description); err != nil {
		return renderFormError(c, "project_form", page, err)
	}
	return redirectWithFlash(c, fmt.Sprintf("/projects/%d", id),
		session.FlashSuccess, "You have successfully updated the project.")
}

// Users renders the assignment form.
func (h *ProjectHandler) Users(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := principal(c)

	users, assigned, err := h.projects.Assignable(ctx, p, id)
	if err != nil {
		return err
	}
	project, err := h.projects.Find(ctx, p, id)
	if err != nil {
		return err
	}

	page := newPage(c, "Assign Users")
	page.Data = projectUsersData{Project: project, Users: users, Assigned: assigned}
	return c.Render(http.StatusOK, "project_users", page)
}

// Assign replaces the project's assignees with the checked users.
func (h *ProjectHandler) Assign(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var form assignForm
	if err := c.Bind(&form); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	editURL := fmt.Sprintf("/projects/%d/edit", id)
	_, _, err = h.projects.ReplaceAssignments(c.Request().Context(), principal(c), id, form.UserIDs)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return redirectWithFlash(c, editURL, session.FlashError, verr.Message)
		}
		return err
	}

	if len(form.UserIDs) == 0 {
		return redirectWithFlash(c, editURL, session.FlashSuccess, "There are no users assigned to this project.")
	}
	return redirectWithFlash(c, editURL, session.FlashSuccess, "You have successfully made new user assignments.")
}

// Destroy deletes a project without tickets.
func (h *ProjectHandler) Destroy(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.projects.Delete(c.Request().Context(), principal(c), id); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return redirectWithFlash(c, fmt.Sprintf("/projects/%d", id), session.FlashError, verr.Message)
		}
		return err
	}
	return redirectWithFlash(c, "/projects", session.FlashSuccess, "The project has been deleted.")
}
