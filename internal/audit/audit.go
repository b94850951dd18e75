// Package audit computes field-level ticket diffs and the history records
// that describe them.
package audit

import (
	"context"
	"fmt"

	"github.com/sumire/bugtracker/internal/domain"
)

// NameResolver looks up a user's display name.
type NameResolver interface {
	UserName(ctx context.Context, id int64) (string, error)
}

// ComputeUpdates compares every set field of edit with current and returns
// only the fields whose values differ. The boolean is false when nothing
// changed, in which case the returned changes are empty.
func ComputeUpdates(edit domain.TicketChanges, current domain.Ticket) (domain.TicketChanges, bool) {
	updates := domain.TicketChanges{
		Title:       changed(edit.Title, current.Title),
		Description: changed(edit.Description, current.Description),
		Priority:    changed(edit.Priority, current.Priority),
		Status:      changed(edit.Status, current.Status),
		Type:        changed(edit.Type, current.Type),
		DeveloperID: changed(edit.DeveloperID, current.DeveloperID),
	}
	if updates.IsEmpty() {
		return domain.TicketChanges{}, false
	}
	return updates, true
}

func changed[T comparable](candidate domain.Optional[T], current T) domain.Optional[T] {
	if !candidate.Set || candidate.Value == current {
		return domain.Optional[T]{}
	}
	return candidate
}

// PreUpdateValues returns, for every field set in updates, the value current
// holds for it.
func PreUpdateValues(updates domain.TicketChanges, current domain.Ticket) domain.TicketChanges {
	var pre domain.TicketChanges
	if updates.Title.Set {
		pre.Title = domain.Some(current.Title)
	}
	if updates.Description.Set {
		pre.Description = domain.Some(current.Description)
	}
	if updates.Priority.Set {
		pre.Priority = domain.Some(current.Priority)
	}
	if updates.Status.Set {
		pre.Status = domain.Some(current.Status)
	}
	if updates.Type.Set {
		pre.Type = domain.Some(current.Type)
	}
	if updates.DeveloperID.Set {
		pre.DeveloperID = domain.Some(current.DeveloperID)
	}
	return pre
}

// BuildHistory returns one history entry per field in updates, pairing it
// with the matching value from pre. Developer references are stored as
// display names.
func BuildHistory(
	ctx context.Context,
	pre, updates domain.TicketChanges,
	userID, ticketID int64,
	names NameResolver,
) ([]domain.HistoryEntry, error) {
	fields := updates.Fields()
	entries := make([]domain.HistoryEntry, 0, len(fields))

	for _, field := range fields {
		previous, ok := pre.Value(field)
		if !ok {
			return nil, fmt.Errorf("no previous value for %s", field)
		}
		current, _ := updates.Value(field)

		prevText, err := displayValue(ctx, names, previous)
		if err != nil {
			return nil, fmt.Errorf("previous %s: %w", field, err)
		}
		curText, err := displayValue(ctx, names, current)
		if err != nil {
			return nil, fmt.Errorf("current %s: %w", field, err)
		}

		entries = append(entries, domain.HistoryEntry{
			TicketID:      ticketID,
			UserID:        userID,
			Property:      field,
			PreviousValue: prevText,
			CurrentValue:  curText,
		})
	}

	return entries, nil
}

func displayValue(ctx context.Context, names NameResolver, v any) (string, error) {
	switch val := v.(type) {
	case domain.DeveloperRef:
		if !val.Valid {
			return domain.UnassignedLabel, nil
		}
		return names.UserName(ctx, val.V)
	case string:
		return val, nil
	default:
		return fmt.Sprint(val), nil
	}
}
