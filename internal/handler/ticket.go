package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
	"github.com/sumire/bugtracker/internal/view"
)

const (
	msgTicketUnchanged = "You did not make any changes. Make any changes to this ticket, or you can return back to Tickets list."
	msgStorageFailed   = "The attachment could not be stored. Please try again later."
)

type ticketForm struct {
	ProjectID   string `form:"project_id" validate:"omitempty,numeric"`
	Title       string `form:"title" validate:"notblank,max=100"`
	Description string `form:"description" validate:"notblank,max=300"`
	Priority    string `form:"priority" validate:"ticket_priority"`
	Status      string `form:"status" validate:"omitempty,ticket_status"`
	Type        string `form:"type" validate:"ticket_type"`
	DeveloperID string `form:"developer_id"`
}

type commentForm struct {
	Comment string `form:"comment" validate:"notblank,max=300"`
}

type ticketsData struct {
	View  service.TicketListView
	Lists *service.TicketLists
}

type ticketFormData struct {
	TicketID   int64
	Projects   []domain.ProjectSummary
	Developers []domain.User
}

// TicketHandler handles ticket pages, comments and attachments.
type TicketHandler struct {
	tickets  *service.TicketService
	projects *service.ProjectService
	users    *service.UserService
}

// NewTicketHandler creates a new TicketHandler.
func NewTicketHandler(tickets *service.TicketService, projects *service.ProjectService, users *service.UserService) *TicketHandler {
	return &TicketHandler{tickets: tickets, projects: projects, users: users}
}

// List renders the ticket tables.
func (h *TicketHandler) List(c echo.Context) error {
	view := service.TicketListAll
	if c.QueryParam("view") == string(service.TicketListUnassigned) {
		view = service.TicketListUnassigned
	}

	lists, err := h.tickets.ListForPrincipal(c.Request().Context(), principal(c), view)
	if err != nil {
		return err
	}
	page := newPage(c, "My Tickets")
	page.Data = ticketsData{View: view, Lists: lists}
	return c.Render(http.StatusOK, "tickets", page)
}

// Show renders a ticket with its comments, attachments and history.
func (h *TicketHandler) Show(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	page := newPage(c, "Ticket Details")
	return h.renderTicket(c, id, page)
}

// New renders the ticket submission form.
func (h *TicketHandler) New(c echo.Context) error {
	page := newPage(c, "Create A Ticket")
	page.Form = ticketForm{
		ProjectID: c.QueryParam("project_id"),
		Priority:  string(domain.PriorityLow),
		Type:      string(domain.TicketTypeBug),
	}
	data, err := h.formData(c, 0)
	if err != nil {
		return err
	}
	page.Data = data
	return c.Render(http.StatusOK, "ticket_form", page)
}

// Create files a ticket.
func (h *TicketHandler) Create(c echo.Context) error {
	var form ticketForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	data, err := h.formData(c, 0)
	if err != nil {
		return err
	}
	page := newPage(c, "Create A Ticket")
	page.Form = form
	page.Data = data

	if err := c.Validate(form); err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}
	projectID, err := strconv.ParseInt(form.ProjectID, 10, 64)
	if err != nil {
		return renderFormError(c, "ticket_form", page, domain.NewValidationError("project_id", "Please select a valid project."))
	}
	developer, err := domain.ParseDeveloperID(form.DeveloperID)
	if err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}

	ticket, err := h.tickets.Create(c.Request().Context(), principal(c), service.NewTicketInput{
		ProjectID:   projectID,
		Title:       form.Title,
		Description: form.Description,
		Type:        domain.TicketType(form.Type),
		Priority:    domain.Priority(form.Priority),
		DeveloperID: developer,
	})
	if err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}
	return redirectWithFlash(c, fmt.Sprintf("/tickets/%d", ticket.ID),
		session.FlashSuccess, "You have successfully submitted a new ticket.")
}

// Edit renders the ticket edit form.
func (h *TicketHandler) Edit(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Find(c.Request().Context(), principal(c), id)
	if err != nil {
		return err
	}
	data, err := h.formData(c, id)
	if err != nil {
		return err
	}

	developer := ""
	if ticket.DeveloperID.Valid {
		developer = strconv.FormatInt(ticket.DeveloperID.V, 10)
	}

	page := newPage(c, "Edit Ticket")
	page.Form = ticketForm{
		ProjectID:   strconv.FormatInt(ticket.ProjectID, 10),
		Title:       ticket.Title,
		Description: ticket.Description,
		Priority:    string(ticket.Priority),
		Status:      string(ticket.Status),
		Type:        string(ticket.Type),
		DeveloperID: developer,
	}
	page.Data = data
	return c.Render(http.StatusOK, "ticket_form", page)
}

// Update applies an edit. Only the fields that differ from the stored
// ticket are written and recorded in its history.
func (h *TicketHandler) Update(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var form ticketForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	data, err := h.formData(c, id)
	if err != nil {
		return err
	}
	page := newPage(c, "Edit Ticket")
	page.Form = form
	page.Data = data

	if err := c.Validate(form); err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}
	developer, err := domain.ParseDeveloperID(form.DeveloperID)
	if err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}

	edit := domain.TicketChanges{
		Title:       domain.Some(form.Title),
		Description: domain.Some(form.Description),
		Priority:    domain.Some(domain.Priority(form.Priority)),
		Type:        domain.Some(domain.TicketType(form.Type)),
		DeveloperID: domain.Some(developer),
	}
	if form.Status != "" {
		edit.Status = domain.Some(domain.TicketStatus(form.Status))
	}

	changed, err := h.tickets.Edit(c.Request().Context(), principal(c), id, edit)
	if err != nil {
		return renderFormError(c, "ticket_form", page, err)
	}
	if !changed {
		return redirectWithFlash(c, fmt.Sprintf("/tickets/%d/edit", id), session.FlashError, msgTicketUnchanged)
	}
	return redirectWithFlash(c, fmt.Sprintf("/tickets/%d", id),
		session.FlashSuccess, "You have successfully made changes to a ticket.")
}

// Destroy deletes a ticket.
func (h *TicketHandler) Destroy(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.tickets.Delete(c.Request().Context(), principal(c), id); err != nil {
		return err
	}
	return redirectWithFlash(c, "/tickets", session.FlashSuccess, "The ticket has been deleted.")
}

// Comment adds a comment to a ticket.
func (h *TicketHandler) Comment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var form commentForm
	if err := c.Bind(&form); err != nil {
		return err
	}

	err = c.Validate(form)
	if err == nil {
		_, err = h.tickets.AddComment(c.Request().Context(), principal(c), id, form.Comment)
	}
	if err != nil {
		page := newPage(c, "Ticket Details")
		page.Form = form
		if !withError(&page, err) {
			return err
		}
		return h.renderTicket(c, id, page)
	}
	return c.Redirect(http.StatusFound, fmt.Sprintf("/tickets/%d", id))
}

// DestroyComment deletes a comment.
func (h *TicketHandler) DestroyComment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	commentID, err := idParam(c, "commentID")
	if err != nil {
		return err
	}
	if err := h.tickets.DeleteComment(c.Request().Context(), principal(c), id, commentID); err != nil {
		return err
	}
	return redirectWithFlash(c, fmt.Sprintf("/tickets/%d", id), session.FlashSuccess, "The ticket comment has been deleted.")
}

// Upload stores an attachment.
func (h *TicketHandler) Upload(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ticketURL := fmt.Sprintf("/tickets/%d", id)

	file, err := c.FormFile("file")
	if err != nil {
		return redirectWithFlash(c, ticketURL, session.FlashError, "Please choose a file to upload.")
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	body, err := io.ReadAll(io.LimitReader(src, service.MaxAttachmentSize+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	_, err = h.tickets.UploadAttachment(c.Request().Context(), principal(c), id, file.Filename, body, c.FormValue("notes"))
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			return redirectWithFlash(c, ticketURL, session.FlashError, verr.Message)
		case errors.Is(err, domain.ErrStorage):
			return redirectWithFlash(c, ticketURL, session.FlashError, msgStorageFailed)
		default:
			return err
		}
	}
	return redirectWithFlash(c, ticketURL, session.FlashSuccess, "The attachment has been uploaded.")
}

// Download serves an attachment.
func (h *TicketHandler) Download(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	obj, err := h.tickets.Download(c.Request().Context(), principal(c), id, c.Param("filename"))
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return redirectWithFlash(c, fmt.Sprintf("/tickets/%d", id), session.FlashError, msgStorageFailed)
		}
		return err
	}
	if obj.ContentDisposition != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, obj.ContentDisposition)
	}
	return c.Blob(http.StatusOK, obj.ContentType, obj.Body)
}

func (h *TicketHandler) renderTicket(c echo.Context, id int64, page view.Page) error {
	detail, err := h.tickets.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return err
	}
	page.Data = detail
	return c.Render(http.StatusOK, "ticket", page)
}

func (h *TicketHandler) formData(c echo.Context, ticketID int64) (ticketFormData, error) {
	ctx := c.Request().Context()
	projects, err := h.projects.List(ctx, principal(c))
	if err != nil {
		return ticketFormData{}, err
	}
	developers, err := h.users.Developers(ctx)
	if err != nil {
		return ticketFormData{}, err
	}
	return ticketFormData{TicketID: ticketID, Projects: projects, Developers: developers}, nil
}
