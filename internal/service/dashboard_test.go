package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/testutil"
)

func TestDashboardService_Counts(t *testing.T) {
	db := testutil.NewDB(t)
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 2024-03-15 10:00 in Los Angeles.
	now := time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC)
	s := NewDashboardService(repository.NewTicketRepository(db), repository.NewProjectRepository(db), loc)
	s.now = func() time.Time { return now }

	admin := domain.Principal{UserID: testutil.InsertUser(t, db, "Ada", domain.RoleAdmin), Role: domain.RoleAdmin}
	devID := testutil.InsertUser(t, db, "Dana", domain.RoleDeveloper)
	dev := domain.Principal{UserID: devID, Role: domain.RoleDeveloper}

	alpha := testutil.InsertProject(t, db, "alpha")
	beta := testutil.InsertProject(t, db, "beta")
	testutil.Assign(t, db, alpha, devID, domain.RoleDeveloper)

	// Today, local time.
	testutil.InsertTicket(t, db, alpha, devID, testutil.TicketOpts{CreatedOn: now.Add(-time.Hour)})
	// 2024-03-14 23:30 local is 2024-03-15 06:30 UTC; it belongs to yesterday.
	testutil.InsertTicket(t, db, beta, devID, testutil.TicketOpts{
		CreatedOn: time.Date(2024, 3, 15, 6, 30, 0, 0, time.UTC),
	})
	// Resolved two days ago.
	testutil.InsertTicket(t, db, alpha, devID, testutil.TicketOpts{
		Status:    domain.TicketStatusResolved,
		CreatedOn: now.AddDate(0, 0, -20),
		UpdatedOn: now.AddDate(0, 0, -2),
	})
	// Older than the window.
	testutil.InsertTicket(t, db, alpha, devID, testutil.TicketOpts{CreatedOn: now.AddDate(0, 0, -30)})

	counts, err := s.Counts(context.Background(), admin, 0)
	require.NoError(t, err)
	require.Len(t, counts.Days, DashboardWindowDays)
	assert.Equal(t, "Mar 02", counts.Labels()[0])
	assert.Equal(t, "Mar 15", counts.Labels()[13])

	last := DashboardWindowDays - 1
	assert.Equal(t, 1, counts.Open[last])
	assert.Equal(t, 1, counts.Open[last-1])
	assert.Equal(t, 1, counts.Resolved[last-2])
	assert.Equal(t, 2, sum(counts.Open))
	assert.Equal(t, 1, sum(counts.Resolved))

	counts, err = s.Counts(context.Background(), dev, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Open[last])
	assert.Equal(t, 0, counts.Open[last-1])
	assert.Equal(t, 1, sum(counts.Resolved))

	lonely := domain.Principal{UserID: testutil.InsertUser(t, db, "Lonely", domain.RoleUnassigned), Role: domain.RoleUnassigned}
	counts, err = s.Counts(context.Background(), lonely, 7)
	require.NoError(t, err)
	assert.Len(t, counts.Days, 7)
	assert.Equal(t, 0, sum(counts.Open))
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
