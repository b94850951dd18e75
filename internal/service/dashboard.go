package service

import (
	"context"
	"time"

	"github.com/sumire/bugtracker/internal/domain"
)

// DashboardWindowDays is how many days the dashboard charts cover.
const DashboardWindowDays = 14

// DashboardCounts holds per-day ticket counts, oldest day first.
type DashboardCounts struct {
	Days     []time.Time
	Open     []int
	Resolved []int
}

// Labels returns the days formatted for chart axes.
func (c DashboardCounts) Labels() []string {
	labels := make([]string, len(c.Days))
	for i, d := range c.Days {
		labels[i] = d.Format("Jan 02")
	}
	return labels
}

// DashboardService aggregates ticket activity for the dashboard.
type DashboardService struct {
	tickets  TicketStore
	projects ProjectStore
	loc      *time.Location
	now      func() time.Time
}

// NewDashboardService creates a new DashboardService. Day boundaries are
// taken in loc; a nil loc means UTC.
func NewDashboardService(tickets TicketStore, projects ProjectStore, loc *time.Location) *DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardService{tickets: tickets, projects: projects, loc: loc, now: time.Now}
}

// Counts returns, for each of the last days including today, how many
// tickets created that day are still open and how many resolved tickets
// were last updated that day. Admins count every project, everybody else
// the projects they are assigned to.
func (s *DashboardService) Counts(ctx context.Context, p domain.Principal, days int) (*DashboardCounts, error) {
	if days <= 0 {
		days = DashboardWindowDays
	}

	today := s.now().In(s.loc)
	start := time.Date(today.Year(), today.Month(), today.Day()-(days-1), 0, 0, 0, 0, s.loc)

	counts := &DashboardCounts{
		Days:     make([]time.Time, days),
		Open:     make([]int, days),
		Resolved: make([]int, days),
	}
	index := make(map[string]int, days)
	for i := range days {
		d := time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, s.loc)
		counts.Days[i] = d
		index[d.Format(time.DateOnly)] = i
	}

	projectIDs := []int64{0}
	if !p.IsAdmin() {
		ids, err := s.projects.AssignedProjectIDs(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		projectIDs = ids
	}

	since := start.UTC()
	for _, pid := range projectIDs {
		opened, err := s.tickets.OpenCreatedSince(ctx, pid, since)
		if err != nil {
			return nil, err
		}
		s.tally(counts.Open, index, opened)

		resolved, err := s.tickets.ResolvedUpdatedSince(ctx, pid, since)
		if err != nil {
			return nil, err
		}
		s.tally(counts.Resolved, index, resolved)
	}

	return counts, nil
}

func (s *DashboardService) tally(into []int, index map[string]int, times []time.Time) {
	for _, t := range times {
		if i, ok := index[t.In(s.loc).Format(time.DateOnly)]; ok {
			into[i]++
		}
	}
}
