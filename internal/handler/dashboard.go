package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/service"
)

// DashboardHandler renders the ticket activity charts.
type DashboardHandler struct {
	dashboard *service.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboard *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Show renders the dashboard.
func (h *DashboardHandler) Show(c echo.Context) error {
	counts, err := h.dashboard.Counts(c.Request().Context(), principal(c), service.DashboardWindowDays)
	if err != nil {
		return err
	}
	page := newPage(c, "Dashboard")
	page.Data = counts
	return c.Render(http.StatusOK, "dashboard", page)
}
