package domain

import "time"

// TicketField names a mutable ticket column. These are the only properties
// that ever appear in a ticket's history.
type TicketField string

const (
	FieldTitle       TicketField = "title"
	FieldDescription TicketField = "description"
	FieldPriority    TicketField = "priority"
	FieldStatus      TicketField = "status"
	FieldType        TicketField = "type"
	FieldDeveloperID TicketField = "developer_id"
)

// TicketFields lists the mutable fields in column order.
var TicketFields = []TicketField{
	FieldTitle,
	FieldDescription,
	FieldPriority,
	FieldStatus,
	FieldType,
	FieldDeveloperID,
}

var fieldLabels = map[TicketField]string{
	FieldTitle:       "Ticket Title",
	FieldDescription: "Description",
	FieldPriority:    "Ticket Priority",
	FieldStatus:      "Ticket Status",
	FieldType:        "Ticket Type",
	FieldDeveloperID: "Assigned Developer",
}

func (f TicketField) IsValid() bool {
	_, ok := fieldLabels[f]
	return ok
}

// Label returns the heading shown for the field in a ticket's history.
func (f TicketField) Label() string {
	if label, ok := fieldLabels[f]; ok {
		return label
	}
	return string(f)
}

// HistoryEntry records one field change of one ticket edit. For
// developer_id the values hold developer names, not ids.
type HistoryEntry struct {
	ID            int64       `json:"id" db:"id"`
	TicketID      int64       `json:"ticket_id" db:"ticket_id"`
	UserID        int64       `json:"user_id" db:"user_id"`
	UserName      string      `json:"user_name" db:"user_name"`
	Property      TicketField `json:"property" db:"property"`
	PreviousValue string      `json:"previous_value" db:"previous_value"`
	CurrentValue  string      `json:"current_value" db:"current_value"`
	UpdatedOn     time.Time   `json:"updated_on" db:"updated_on"`
}

// Optional holds a value that may or may not have been supplied.
type Optional[T comparable] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T comparable](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// TicketChanges carries one optional value per mutable ticket column.
type TicketChanges struct {
	Title       Optional[string]
	Description Optional[string]
	Priority    Optional[Priority]
	Status      Optional[TicketStatus]
	Type        Optional[TicketType]
	DeveloperID Optional[DeveloperRef]
}

// Fields returns the set fields in column order.
func (c TicketChanges) Fields() []TicketField {
	var fields []TicketField
	if c.Title.Set {
		fields = append(fields, FieldTitle)
	}
	if c.Description.Set {
		fields = append(fields, FieldDescription)
	}
	if c.Priority.Set {
		fields = append(fields, FieldPriority)
	}
	if c.Status.Set {
		fields = append(fields, FieldStatus)
	}
	if c.Type.Set {
		fields = append(fields, FieldType)
	}
	if c.DeveloperID.Set {
		fields = append(fields, FieldDeveloperID)
	}
	return fields
}

// IsEmpty reports whether no field is set.
func (c TicketChanges) IsEmpty() bool {
	return len(c.Fields()) == 0
}

// Value returns the value of a set field in its stored representation.
func (c TicketChanges) Value(f TicketField) (any, bool) {
	switch f {
	case FieldTitle:
		return c.Title.Value, c.Title.Set
	case FieldDescription:
		return c.Description.Value, c.Description.Set
	case FieldPriority:
		return c.Priority.Value, c.Priority.Set
	case FieldStatus:
		return c.Status.Value, c.Status.Set
	case FieldType:
		return c.Type.Value, c.Type.Set
	case FieldDeveloperID:
		return c.DeveloperID.Value, c.DeveloperID.Set
	}
	return nil, false
}

// Apply returns a copy of t with every set field replaced.
func (c TicketChanges) Apply(t Ticket) Ticket {
	if c.Title.Set {
		t.Title = c.Title.Value
	}
	if c.Description.Set {
		t.Description = c.Description.Value
	}
	if c.Priority.Set {
		t.Priority = c.Priority.Value
	}
	if c.Status.Set {
		t.Status = c.Status.Value
	}
	if c.Type.Set {
		t.Type = c.Type.Value
	}
	if c.DeveloperID.Set {
		t.DeveloperID = c.DeveloperID.Value
	}
	return t
}
