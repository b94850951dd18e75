package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/bugtracker/internal/domain"
)

type mockNames struct {
	names map[int64]string
	err   error
}

func (m *mockNames) UserName(_ context.Context, id int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	name, ok := m.names[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return name, nil
}

func newTicket() domain.Ticket {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return domain.Ticket{
		ID:          4,
		Status:      domain.TicketStatusOpen,
		Title:       "Unable to login",
		Description: "Create a login functionality with 4 demo logins",
		Type:        domain.TicketTypeFeature,
		Priority:    domain.PriorityLow,
		SubmitterID: 4,
		ProjectID:   1,
		DeveloperID: domain.DeveloperID(3),
		CreatedOn:   created,
		UpdatedOn:   created,
	}
}

func editOf(t domain.Ticket) domain.TicketChanges {
	return domain.TicketChanges{
		Title:       domain.Some(t.Title),
		Description: domain.Some(t.Description),
		Priority:    domain.Some(t.Priority),
		Status:      domain.Some(t.Status),
		Type:        domain.Some(t.Type),
		DeveloperID: domain.Some(t.DeveloperID),
	}
}

func TestComputeUpdates_IdenticalEditIsNoop(t *testing.T) {
	current := newTicket()

	updates, ok := ComputeUpdates(editOf(current), current)

	assert.False(t, ok)
	assert.True(t, updates.IsEmpty())
}

func TestComputeUpdates_StatusChangeOnly(t *testing.T) {
	current := newTicket()
	edit := editOf(current)
	edit.Status = domain.Some(domain.TicketStatusAddInfoRequired)

	updates, ok := ComputeUpdates(edit, current)

	require.True(t, ok)
	assert.Equal(t, []domain.TicketField{domain.FieldStatus}, updates.Fields())
	assert.Equal(t, domain.TicketStatusAddInfoRequired, updates.Status.Value)
	assert.False(t, updates.Title.Set)
	assert.False(t, updates.DeveloperID.Set)
}

func TestComputeUpdates_UnsetCandidatesAreIgnored(t *testing.T) {
	current := newTicket()
	edit := domain.TicketChanges{Priority: domain.Some(domain.PriorityCritical)}

	updates, ok := ComputeUpdates(edit, current)

	require.True(t, ok)
	assert.Equal(t, []domain.TicketField{domain.FieldPriority}, updates.Fields())
}

func TestComputeUpdates_DeveloperIDNormalizedBeforeComparison(t *testing.T) {
	current := newTicket()

	submitted, err := domain.ParseDeveloperID("3")
	require.NoError(t, err)

	edit := editOf(current)
	edit.DeveloperID = domain.Some(submitted)

	_, ok := ComputeUpdates(edit, current)
	assert.False(t, ok, "developer \"3\" must equal stored developer 3")
}

func TestComputeUpdates_UnassigningDeveloper(t *testing.T) {
	current := newTicket()

	submitted, err := domain.ParseDeveloperID("0")
	require.NoError(t, err)

	edit := editOf(current)
	edit.DeveloperID = domain.Some(submitted)

	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)
	assert.Equal(t, domain.Unassigned, updates.DeveloperID.Value)
}

func TestPreUpdateValues_UsesCurrentValues(t *testing.T) {
	current := newTicket()
	edit := editOf(current)
	edit.Title = domain.Some("Unable to log out")
	edit.Priority = domain.Some(domain.PriorityCritical)

	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	pre := PreUpdateValues(updates, current)

	assert.Equal(t, updates.Fields(), pre.Fields())
	assert.Equal(t, "Unable to login", pre.Title.Value)
	assert.Equal(t, domain.PriorityLow, pre.Priority.Value)
}

func TestApply_RediffIsNoop(t *testing.T) {
	current := newTicket()
	edit := editOf(current)
	edit.Status = domain.Some(domain.TicketStatusResolved)
	edit.Type = domain.Some(domain.TicketTypeBug)
	edit.DeveloperID = domain.Some(domain.DeveloperID(5))

	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	next := updates.Apply(current)

	_, ok = ComputeUpdates(updates, next)
	assert.False(t, ok)
	assert.Equal(t, current.SubmitterID, next.SubmitterID)
	assert.Equal(t, current.ProjectID, next.ProjectID)
}

func TestBuildHistory_StatusScenario(t *testing.T) {
	current := newTicket()
	edit := editOf(current)
	edit.Status = domain.Some(domain.TicketStatusAddInfoRequired)

	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	entries, err := BuildHistory(context.Background(), PreUpdateValues(updates, current), updates, 2, current.ID, &mockNames{})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.FieldStatus, entries[0].Property)
	assert.Equal(t, "Open", entries[0].PreviousValue)
	assert.Equal(t, "Add. Info Required", entries[0].CurrentValue)
	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, current.ID, entries[0].TicketID)
}

func TestBuildHistory_ResolvesDeveloperNames(t *testing.T) {
	current := newTicket()
	names := &mockNames{names: map[int64]string{3: "DEMO_Developer", 5: "TEST_Developer"}}

	edit := editOf(current)
	edit.DeveloperID = domain.Some(domain.DeveloperID(5))
	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	entries, err := BuildHistory(context.Background(), PreUpdateValues(updates, current), updates, 1, current.ID, names)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.FieldDeveloperID, entries[0].Property)
	assert.Equal(t, "DEMO_Developer", entries[0].PreviousValue)
	assert.Equal(t, "TEST_Developer", entries[0].CurrentValue)
}

func TestBuildHistory_UnassignedDeveloperNeedsNoLookup(t *testing.T) {
	current := newTicket()
	current.DeveloperID = domain.Unassigned
	names := &mockNames{names: map[int64]string{7: "New Dev"}}

	edit := domain.TicketChanges{DeveloperID: domain.Some(domain.DeveloperID(7))}
	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	entries, err := BuildHistory(context.Background(), PreUpdateValues(updates, current), updates, 1, current.ID, names)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Unassigned", entries[0].PreviousValue)
	assert.Equal(t, "New Dev", entries[0].CurrentValue)
}

func TestBuildHistory_OneEntryPerChangedField(t *testing.T) {
	current := newTicket()
	names := &mockNames{names: map[int64]string{3: "DEMO_Developer", 5: "TEST_Developer"}}

	edit := domain.TicketChanges{
		Title:       domain.Some("Finance manager roadmap"),
		Description: domain.Some(current.Description),
		Priority:    domain.Some(domain.PriorityCritical),
		Status:      domain.Some(domain.TicketStatusAddInfoRequired),
		Type:        domain.Some(domain.TicketTypeBug),
		DeveloperID: domain.Some(domain.DeveloperID(5)),
	}
	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	entries, err := BuildHistory(context.Background(), PreUpdateValues(updates, current), updates, 1, current.ID, names)
	require.NoError(t, err)

	assert.Len(t, entries, len(updates.Fields()))
	for _, e := range entries {
		assert.True(t, e.Property.IsValid(), "unexpected property %q", e.Property)
		assert.NotEqual(t, domain.FieldDescription, e.Property)
	}
}

func TestBuildHistory_NameLookupFailure(t *testing.T) {
	current := newTicket()
	names := &mockNames{err: errors.New("db down")}

	edit := domain.TicketChanges{DeveloperID: domain.Some(domain.DeveloperID(5))}
	updates, ok := ComputeUpdates(edit, current)
	require.True(t, ok)

	_, err := BuildHistory(context.Background(), PreUpdateValues(updates, current), updates, 1, current.ID, names)
	assert.Error(t, err)
}

func TestBuildHistory_MissingPreviousValue(t *testing.T) {
	updates := domain.TicketChanges{Title: domain.Some("new")}

	_, err := BuildHistory(context.Background(), domain.TicketChanges{}, updates, 1, 1, &mockNames{})
	assert.Error(t, err)
}
