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

// CommentRepository handles ticket comment data access.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment.
func (r *CommentRepository) Create(ctx context.Context, c domain.Comment) (*domain.Comment, error) {
	if c.CreatedOn.IsZero() {
		c.CreatedOn = time.Now().UTC()
	}
	q := conn(ctx, r.db)
	err := q.QueryRowxContext(ctx, q.Rebind(
		`INSERT INTO ticket_comments (ticket_id, commenter_id, comment, created_on) VALUES (?, ?, ?, ?) RETURNING id`),
		c.TicketID, c.CommenterID, c.Body, c.CreatedOn,
	).Scan(&c.ID)
	if err != nil {
		return nil, mapWriteError(err, "create comment")
	}
	return &c, nil
}

// FindByID retrieves a comment of a ticket.
func (r *CommentRepository) FindByID(ctx context.Context, ticketID, id int64) (*domain.Comment, error) {
	var c domain.Comment
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(
		`SELECT c.id, c.ticket_id, c.commenter_id, u.name AS commenter_name, c.comment, c.created_on
		   FROM ticket_comments AS c
		   JOIN users AS u ON u.id = c.commenter_id
		  WHERE c.ticket_id = ? AND c.id = ?`), ticketID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find comment %d: %w", id, err)
	}
	return &c, nil
}

// ListForTicket returns a ticket's comments, newest first.
func (r *CommentRepository) ListForTicket(ctx context.Context, ticketID int64) ([]domain.Comment, error) {
	comments := []domain.Comment{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &comments, q.Rebind(
		`SELECT c.id, c.ticket_id, c.commenter_id, u.name AS commenter_name, c.comment, c.created_on
		   FROM ticket_comments AS c
		   JOIN users AS u ON u.id = c.commenter_id
		  WHERE c.ticket_id = ?
		  ORDER BY c.created_on DESC, c.id DESC`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list comments of ticket %d: %w", ticketID, err)
	}
	return comments, nil
}

// Delete removes a comment of a ticket.
func (r *CommentRepository) Delete(ctx context.Context, ticketID, id int64) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`DELETE FROM ticket_comments WHERE ticket_id = ? AND id = ?`), ticketID, id)
	if err != nil {
		return 0, fmt.Errorf("delete comment %d: %w", id, err)
	}
	return rowsAffected(res, "delete comment")
}

// AttachmentRepository handles ticket attachment records. The files
// themselves live in object storage.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository creates a new AttachmentRepository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts an attachment record.
func (r *AttachmentRepository) Create(ctx context.Context, a domain.Attachment) (*domain.Attachment, error) {
	if a.UploadedOn.IsZero() {
		a.UploadedOn = time.Now().UTC()
	}
	q := conn(ctx, r.db)
	err := q.QueryRowxContext(ctx, q.Rebind(
		`INSERT INTO ticket_attachments (ticket_id, uploader_id, filename, notes, uploaded_on) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		a.TicketID, a.UploaderID, a.ObjectKey, a.Notes, a.UploadedOn,
	).Scan(&a.ID)
	if err != nil {
		return nil, mapWriteError(err, "create attachment")
	}
	return &a, nil
}

// ListForTicket returns a ticket's attachments, oldest first.
func (r *AttachmentRepository) ListForTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error) {
	attachments := []domain.Attachment{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &attachments, q.Rebind(
		`SELECT a.id, a.ticket_id, a.uploader_id, u.name AS uploader_name, a.filename, a.notes, a.uploaded_on
		   FROM ticket_attachments AS a
		   JOIN users AS u ON u.id = a.uploader_id
		  WHERE a.ticket_id = ?
		  ORDER BY a.uploaded_on ASC, a.id ASC`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list attachments of ticket %d: %w", ticketID, err)
	}
	return attachments, nil
}

// HistoryRepository handles the ticket update log.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert appends entries to the log. Properties outside the mutable ticket
// fields are rejected.
func (r *HistoryRepository) Insert(ctx context.Context, entries []domain.HistoryEntry) error {
	q := conn(ctx, r.db)
	stmt := q.Rebind(
		`INSERT INTO ticket_update_history (ticket_id, user_id, property, previous_value, current_value, updated_on)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	for _, e := range entries {
		if !e.Property.IsValid() {
			return fmt.Errorf("%w: history property %q", domain.ErrInvalidInput, e.Property)
		}
		if e.UpdatedOn.IsZero() {
			e.UpdatedOn = time.Now().UTC()
		}
		if _, err := q.ExecContext(ctx, stmt,
			e.TicketID, e.UserID, e.Property, e.PreviousValue, e.CurrentValue, e.UpdatedOn); err != nil {
			return fmt.Errorf("insert history for ticket %d: %w", e.TicketID, err)
		}
	}
	return nil
}

// ListForTicket returns a ticket's history, newest first.
func (r *HistoryRepository) ListForTicket(ctx context.Context, ticketID int64) ([]domain.HistoryEntry, error) {
	entries := []domain.HistoryEntry{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &entries, q.Rebind(
		`SELECT h.id, h.ticket_id, h.user_id, u.name AS user_name, h.property,
		        h.previous_value, h.current_value, h.updated_on
		   FROM ticket_update_history AS h
		   JOIN users AS u ON u.id = h.user_id
		  WHERE h.ticket_id = ?
		  ORDER BY h.updated_on DESC, h.id DESC`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list history of ticket %d: %w", ticketID, err)
	}
	return entries, nil
}
