package domain

import (
	"database/sql"
	"time"
)

// Project represents a project that contains tickets.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProjectSummary is a project row decorated with its manager and ticket count.
type ProjectSummary struct {
	Project
	ManagerName sql.Null[string] `json:"manager_name" db:"manager_name"`
	TicketCount int64            `json:"ticket_count" db:"ticket_count"`
}

// Assignment grants a user visibility and permissions on a project.
type Assignment struct {
	ProjectID int64 `json:"project_id" db:"project_id"`
	UserID    int64 `json:"user_id" db:"user_id"`
	Role      Role  `json:"role" db:"role"`
}

// Assignee is an assigned user as shown on a project page.
type Assignee struct {
	UserID int64  `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Role   Role   `json:"role" db:"role"`
}

// ManagerOf returns the name of the first assignee holding the
// project_manager role.
func ManagerOf(assignees []Assignee) (string, bool) {
	for _, a := range assignees {
		if a.Role == RoleProjectManager {
			return a.Name, true
		}
	}
	return "", false
}
