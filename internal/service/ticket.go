package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sumire/bugtracker/internal/audit"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/storage"
)

// TicketStore defines the ticket data access interface consumed by the services.
type TicketStore interface {
	Create(ctx context.Context, t domain.Ticket) (*domain.Ticket, error)
	FindByID(ctx context.Context, id int64) (*domain.Ticket, error)
	FindView(ctx context.Context, id int64) (*domain.TicketView, error)
	ListViews(ctx context.Context, f domain.TicketFilter) ([]domain.TicketView, error)
	ListForProject(ctx context.Context, projectID int64) ([]domain.TicketView, error)
	CountForProject(ctx context.Context, projectID int64) (int64, error)
	Update(ctx context.Context, id int64, changes domain.TicketChanges, at time.Time) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	OpenCreatedSince(ctx context.Context, projectID int64, since time.Time) ([]time.Time, error)
	ResolvedUpdatedSince(ctx context.Context, projectID int64, since time.Time) ([]time.Time, error)
}

// CommentStore defines the comment data access interface.
type CommentStore interface {
	Create(ctx context.Context, c domain.Comment) (*domain.Comment, error)
	ListForTicket(ctx context.Context, ticketID int64) ([]domain.Comment, error)
	Delete(ctx context.Context, ticketID, id int64) (int64, error)
}

// AttachmentStore defines the attachment record data access interface.
type AttachmentStore interface {
	Create(ctx context.Context, a domain.Attachment) (*domain.Attachment, error)
	ListForTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error)
}

// HistoryStore defines the ticket history data access interface.
type HistoryStore interface {
	Insert(ctx context.Context, entries []domain.HistoryEntry) error
	ListForTicket(ctx context.Context, ticketID int64) ([]domain.HistoryEntry, error)
}

// MaxAttachmentSize is the largest file accepted as an attachment.
const MaxAttachmentSize = 10 << 20

// MaxAttachmentNameLength caps the stored file name in runes so the object
// key fits the attachment record.
const MaxAttachmentNameLength = 200

// TicketListView selects which tickets ListForPrincipal returns.
type TicketListView string

const (
	TicketListAll        TicketListView = "all"
	TicketListUnassigned TicketListView = "unassigned"
)

// TicketLists partitions the tickets a principal can see.
type TicketLists struct {
	Unresolved    []domain.TicketView
	Resolved      []domain.TicketView
	SubmittedByMe []domain.TicketView
}

// TicketDetail is everything shown on a ticket page.
type TicketDetail struct {
	Ticket      domain.TicketView
	Comments    []domain.Comment
	History     []domain.HistoryEntry
	Attachments []domain.Attachment
}

// NewTicketInput is a ticket submission.
type NewTicketInput struct {
	ProjectID   int64
	Title       string
	Description string
	Type        domain.TicketType
	Priority    domain.Priority
	DeveloperID domain.DeveloperRef
}

// TicketDeps groups the stores a TicketService works with.
type TicketDeps struct {
	Tickets     TicketStore
	Comments    CommentStore
	Attachments AttachmentStore
	History     HistoryStore
	Projects    ProjectStore
	Users       UserStore
	Objects     storage.ObjectStore
	Tx          TxRunner
}

// TicketService files, edits and lists tickets.
type TicketService struct {
	TicketDeps
	now func() time.Time
}

// NewTicketService creates a new TicketService.
func NewTicketService(deps TicketDeps) *TicketService {
	return &TicketService{TicketDeps: deps, now: time.Now}
}

// ListForPrincipal returns the tickets p can see. Admins see every ticket,
// everybody else the tickets of their assigned projects. The unassigned view
// keeps only unresolved tickets without a developer.
func (s *TicketService) ListForPrincipal(ctx context.Context, p domain.Principal, view TicketListView) (*TicketLists, error) {
	scope := domain.TicketFilter{}
	if !p.IsAdmin() {
		ids, err := s.Projects.AssignedProjectIDs(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		scope = domain.TicketFilter{Scoped: true, ProjectIDs: ids}
	}

	lists := &TicketLists{Resolved: []domain.TicketView{}, SubmittedByMe: []domain.TicketView{}}

	unresolved := scope
	unresolved.Resolved = sql.Null[bool]{V: false, Valid: true}
	unresolved.UnassignedOnly = view == TicketListUnassigned
	var err error
	if lists.Unresolved, err = s.Tickets.ListViews(ctx, unresolved); err != nil {
		return nil, err
	}
	if view == TicketListUnassigned {
		return lists, nil
	}

	resolved := scope
	resolved.Resolved = sql.Null[bool]{V: true, Valid: true}
	if lists.Resolved, err = s.Tickets.ListViews(ctx, resolved); err != nil {
		return nil, err
	}

	if lists.SubmittedByMe, err = s.Tickets.ListViews(ctx, domain.TicketFilter{SubmitterID: p.UserID}); err != nil {
		return nil, err
	}
	return lists, nil
}

// Get returns a ticket with its comments, history and attachments.
func (s *TicketService) Get(ctx context.Context, p domain.Principal, id int64) (*TicketDetail, error) {
	view, err := s.Tickets.FindView(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, p, view.Ticket); err != nil {
		return nil, err
	}

	comments, err := s.Comments.ListForTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.History.ListForTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments, err := s.Attachments.ListForTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	return &TicketDetail{Ticket: *view, Comments: comments, History: history, Attachments: attachments}, nil
}

// Find returns a ticket p can see.
func (s *TicketService) Find(ctx context.Context, p domain.Principal, id int64) (*domain.TicketView, error) {
	view, err := s.Tickets.FindView(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, p, view.Ticket); err != nil {
		return nil, err
	}
	return view, nil
}

// Create files a new open ticket on a project p is assigned to.
func (s *TicketService) Create(ctx context.Context, p domain.Principal, in NewTicketInput) (*domain.Ticket, error) {
	if _, err := s.Projects.FindByID(ctx, in.ProjectID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("project_id", "Please select a valid project.")
		}
		return nil, err
	}
	if err := s.checkProject(ctx, p, in.ProjectID); err != nil {
		return nil, err
	}
	if err := checkEnums(domain.TicketChanges{
		Priority: domain.Some(in.Priority),
		Type:     domain.Some(in.Type),
	}); err != nil {
		return nil, err
	}
	if err := s.checkDeveloper(ctx, in.DeveloperID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ticket, err := s.Tickets.Create(ctx, domain.Ticket{
		Status:      domain.TicketStatusOpen,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		Priority:    in.Priority,
		SubmitterID: p.UserID,
		ProjectID:   in.ProjectID,
		DeveloperID: in.DeveloperID,
		CreatedOn:   now,
		UpdatedOn:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	slog.Info("ticket created", "ticket_id", ticket.ID, "project_id", ticket.ProjectID, "by", p.UserID)
	return ticket, nil
}

// Edit applies the fields of edit that differ from the stored ticket and
// records one history entry per changed field, all in one transaction. It
// reports false, writing nothing, when no field differs.
func (s *TicketService) Edit(ctx context.Context, p domain.Principal, id int64, edit domain.TicketChanges) (bool, error) {
	if edit.Title.Set {
		edit.Title.Value = strings.TrimSpace(edit.Title.Value)
	}
	if edit.Description.Set {
		edit.Description.Value = strings.TrimSpace(edit.Description.Value)
	}
	if err := checkEnums(edit); err != nil {
		return false, err
	}

	changed := false
	err := s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.Tickets.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkAccess(ctx, p, *current); err != nil {
			return err
		}

		updates, ok := audit.ComputeUpdates(edit, *current)
		if !ok {
			return nil
		}
		if updates.DeveloperID.Set {
			if err := s.checkDeveloper(ctx, updates.DeveloperID.Value); err != nil {
				return err
			}
		}

		pre := audit.PreUpdateValues(updates, *current)
		entries, err := audit.BuildHistory(ctx, pre, updates, p.UserID, id, s.Users)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := s.Tickets.Update(ctx, id, updates, now); err != nil {
			return err
		}
		for i := range entries {
			entries[i].UpdatedOn = now
		}
		if err := s.History.Insert(ctx, entries); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		slog.Info("ticket updated", "ticket_id", id, "by", p.UserID)
	}
	return changed, nil
}

// Delete removes a ticket with its comments, history and attachment
// records. Stored files are kept.
func (s *TicketService) Delete(ctx context.Context, p domain.Principal, id int64) error {
	if _, err := s.Find(ctx, p, id); err != nil {
		return err
	}
	n, err := s.Tickets.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	slog.Info("ticket deleted", "ticket_id", id, "by", p.UserID)
	return nil
}

// AddComment leaves a comment on a ticket.
func (s *TicketService) AddComment(ctx context.Context, p domain.Principal, ticketID int64, body string) (*domain.Comment, error) {
	if _, err := s.Find(ctx, p, ticketID); err != nil {
		return nil, err
	}
	return s.Comments.Create(ctx, domain.Comment{
		TicketID:    ticketID,
		CommenterID: p.UserID,
		Body:        strings.TrimSpace(body),
		CreatedOn:   s.now().UTC(),
	})
}

// DeleteComment removes a comment from a ticket.
func (s *TicketService) DeleteComment(ctx context.Context, p domain.Principal, ticketID, commentID int64) error {
	if _, err := s.Find(ctx, p, ticketID); err != nil {
		return err
	}
	n, err := s.Comments.Delete(ctx, ticketID, commentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	slog.Info("comment deleted", "ticket_id", ticketID, "comment_id", commentID, "by", p.UserID)
	return nil
}

// UploadAttachment stores a file and records it on the ticket. Storage
// failures wrap domain.ErrStorage and leave the ticket unchanged.
func (s *TicketService) UploadAttachment(ctx context.Context, p domain.Principal, ticketID int64, filename string, body []byte, notes string) (*domain.Attachment, error) {
	if _, err := s.Find(ctx, p, ticketID); err != nil {
		return nil, err
	}

	name := cleanFilename(filename)
	if name == "" {
		return nil, domain.NewValidationError("file", "Please choose a file to upload.")
	}
	if len(body) == 0 {
		return nil, domain.NewValidationError("file", "The uploaded file is empty.")
	}
	if len(body) > MaxAttachmentSize {
		return nil, domain.NewValidationError("file", "Attachments must be 10 MB or smaller.")
	}

	key := path.Join("tickets", fmt.Sprint(ticketID), uuid.NewString(), name)
	contentType := mimetype.Detect(body).String()

	if _, err := s.Objects.Put(ctx, key, body, contentType); err != nil {
		slog.Error("attachment upload failed", "error", err, "ticket_id", ticketID, "key", key)
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	attachment, err := s.Attachments.Create(ctx, domain.Attachment{
		TicketID:   ticketID,
		UploaderID: p.UserID,
		ObjectKey:  key,
		Notes:      strings.TrimSpace(notes),
		UploadedOn: s.now().UTC(),
	})
	if err != nil {
		if derr := s.Objects.Delete(ctx, key); derr != nil {
			slog.Error("orphaned attachment object", "error", derr, "ticket_id", ticketID, "key", key)
		}
		return nil, err
	}

	slog.Info("attachment uploaded", "ticket_id", ticketID, "key", key, "content_type", contentType)
	return attachment, nil
}

// Download fetches an attachment of a ticket by file name.
func (s *TicketService) Download(ctx context.Context, p domain.Principal, ticketID int64, filename string) (*storage.Object, error) {
	if _, err := s.Find(ctx, p, ticketID); err != nil {
		return nil, err
	}

	attachments, err := s.Attachments.ListForTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	for _, a := range attachments {
		if a.Filename() != filename {
			continue
		}
		obj, err := s.Objects.Get(ctx, a.ObjectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, domain.ErrNotFound
			}
			slog.Error("attachment download failed", "error", err, "ticket_id", ticketID, "key", a.ObjectKey)
			return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		return obj, nil
	}
	return nil, domain.ErrNotFound
}

// checkAccess allows admins, the submitter and users assigned to the
// ticket's project.
func (s *TicketService) checkAccess(ctx context.Context, p domain.Principal, t domain.Ticket) error {
	if t.SubmitterID == p.UserID {
		return nil
	}
	return s.checkProject(ctx, p, t.ProjectID)
}

func (s *TicketService) checkProject(ctx context.Context, p domain.Principal, projectID int64) error {
	if p.IsAdmin() {
		return nil
	}
	ok, err := s.Projects.IsAssigned(ctx, projectID, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *TicketService) checkDeveloper(ctx context.Context, ref domain.DeveloperRef) error {
	if !ref.Valid {
		return nil
	}
	user, err := s.Users.FindByID(ctx, ref.V)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("developer_id", "Please select a valid developer.")
		}
		return err
	}
	if user.Role != domain.RoleDeveloper {
		return domain.NewValidationError("developer_id", "Please select a valid developer.")
	}
	return nil
}

func checkEnums(c domain.TicketChanges) error {
	if c.Status.Set && !c.Status.Value.IsValid() {
		return domain.NewValidationError("status", "Please select a valid status.")
	}
	if c.Priority.Set && !c.Priority.Value.IsValid() {
		return domain.NewValidationError("priority", "Please select a valid priority.")
	}
	if c.Type.Set && !c.Type.Value.IsValid() {
		return domain.NewValidationError("type", "Please select a valid ticket type.")
	}
	return nil
}

// cleanFilename keeps the last path element of a client supplied name.
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimSpace(path.Base(name))
	if name == "." || name == "/" {
		return ""
	}
	return truncateFilename(name, MaxAttachmentNameLength)
}

// truncateFilename shortens name to limit runes, keeping a short extension.
func truncateFilename(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}
	ext := []rune(path.Ext(name))
	if len(ext) > 16 {
		ext = nil
	}
	base := strings.TrimSpace(string(runes[:limit-len(ext)]))
	return base + string(ext)
}
