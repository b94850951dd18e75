package domain

import (
	"database/sql"
	"path"
	"strconv"
	"strings"
	"time"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "Open"
	TicketStatusInProgress      TicketStatus = "In Progress"
	TicketStatusResolved        TicketStatus = "Resolved"
	TicketStatusAddInfoRequired TicketStatus = "Add. Info Required"
)

// TicketStatuses lists the statuses in form order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusAddInfoRequired,
}

func (s TicketStatus) IsValid() bool {
	for _, v := range TicketStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority represents how urgent a ticket is.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

var Priorities = []Priority{PriorityLow, PriorityHigh, PriorityCritical}

func (p Priority) IsValid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// TicketType classifies what a ticket asks for.
type TicketType string

const (
	TicketTypeBug            TicketType = "Bug/Error Report"
	TicketTypeFeature        TicketType = "Feature Request"
	TicketTypeServiceRequest TicketType = "Service Request"
	TicketTypeOther          TicketType = "Other"
)

var TicketTypes = []TicketType{
	TicketTypeBug,
	TicketTypeFeature,
	TicketTypeServiceRequest,
	TicketTypeOther,
}

func (t TicketType) IsValid() bool {
	for _, v := range TicketTypes {
		if t == v {
			return true
		}
	}
	return false
}

// UnassignedLabel is how a missing developer is shown to users.
const UnassignedLabel = "Unassigned"

// DeveloperRef references the developer working on a ticket. An invalid
// (NULL) reference means the ticket is unassigned.
type DeveloperRef = sql.Null[int64]

// Unassigned is the empty developer reference.
var Unassigned = DeveloperRef{}

// DeveloperID returns a reference to the given user.
func DeveloperID(id int64) DeveloperRef {
	return DeveloperRef{V: id, Valid: true}
}

// ParseDeveloperID normalizes a submitted developer id. Empty strings, "0"
// and "unassigned" all mean no developer.
func ParseDeveloperID(s string) (DeveloperRef, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" || strings.EqualFold(s, UnassignedLabel) {
		return Unassigned, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return Unassigned, NewValidationError("developer_id", "Please select a valid developer.")
	}
	if id == 0 {
		return Unassigned, nil
	}
	return DeveloperID(id), nil
}

// Ticket represents a persisted ticket row.
type Ticket struct {
	ID          int64        `json:"id" db:"id"`
	Status      TicketStatus `json:"status" db:"status"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description" db:"description"`
	Type        TicketType   `json:"type" db:"type"`
	Priority    Priority     `json:"priority" db:"priority"`
	SubmitterID int64        `json:"submitter_id" db:"submitter_id"`
	ProjectID   int64        `json:"project_id" db:"project_id"`
	DeveloperID DeveloperRef `json:"developer_id" db:"developer_id"`
	CreatedOn   time.Time    `json:"created_on" db:"created_on"`
	UpdatedOn   time.Time    `json:"updated_on" db:"updated_on"`
}

// IsResolved reports whether the ticket has been resolved.
func (t Ticket) IsResolved() bool {
	return t.Status == TicketStatusResolved
}

// TicketView is a ticket joined with the names of its project and people.
type TicketView struct {
	Ticket
	ProjectName   string           `json:"project_name" db:"project_name"`
	SubmitterName string           `json:"submitter_name" db:"submitter_name"`
	DeveloperName sql.Null[string] `json:"developer_name" db:"developer_name"`
}

// DeveloperDisplayName returns the developer's name or "Unassigned".
func (t TicketView) DeveloperDisplayName() string {
	if !t.DeveloperName.Valid {
		return UnassignedLabel
	}
	return t.DeveloperName.V
}

// TicketFilter narrows a ticket listing. The zero value matches every ticket.
type TicketFilter struct {
	// Scoped limits results to ProjectIDs. A scoped filter with no project
	// IDs matches nothing.
	Scoped     bool
	ProjectIDs []int64

	SubmitterID    int64
	Resolved       sql.Null[bool]
	UnassignedOnly bool
}

// Comment is a message left on a ticket.
type Comment struct {
	ID            int64     `json:"id" db:"id"`
	TicketID      int64     `json:"ticket_id" db:"ticket_id"`
	CommenterID   int64     `json:"commenter_id" db:"commenter_id"`
	CommenterName string    `json:"commenter_name" db:"commenter_name"`
	Body          string    `json:"comment" db:"comment"`
	CreatedOn     time.Time `json:"created_on" db:"created_on"`
}

// Attachment is a file uploaded to a ticket. ObjectKey addresses the file
// in object storage.
type Attachment struct {
	ID           int64     `json:"id" db:"id"`
	TicketID     int64     `json:"ticket_id" db:"ticket_id"`
	UploaderID   int64     `json:"uploader_id" db:"uploader_id"`
	UploaderName string    `json:"uploader_name" db:"uploader_name"`
	ObjectKey    string    `json:"filename" db:"filename"`
	Notes        string    `json:"notes" db:"notes"`
	UploadedOn   time.Time `json:"uploaded_on" db:"uploaded_on"`
}

// Filename returns the last element of the object key, which is the name
// attachments are downloaded by.
func (a Attachment) Filename() string {
	return path.Base(a.ObjectKey)
}
