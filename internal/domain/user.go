package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role represents a user's role within the tracker.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleProjectManager   Role = "project_manager"
	RoleDeveloper        Role = "developer"
	RoleQualityAssurance Role = "quality_assurance"
	RoleUnassigned       Role = "unassigned"
)

// Roles lists every role, most privileged first.
var Roles = []Role{
	RoleAdmin,
	RoleProjectManager,
	RoleDeveloper,
	RoleQualityAssurance,
	RoleUnassigned,
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisplayName returns the human readable role, e.g. "Project Manager".
func (r Role) DisplayName() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(r), "_", " "))
}

// ParseRole parses s into a Role, reporting whether it is known.
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.IsValid()
}

// User represents a registered user.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	Email     string    `json:"email" db:"email"`
	Username  *string   `json:"username,omitempty" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MaxUserNameLength is the longest full name a user row can hold.
const MaxUserNameLength = 100

// Credentials holds the stored login of a user.
type Credentials struct {
	UserID       int64  `db:"user_id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password"`
}

// AuthProvider represents an OAuth provider.
type AuthProvider string

const (
	AuthProviderGoogle AuthProvider = "google"
	AuthProviderGitHub AuthProvider = "github"
)

// Principal is the authenticated identity driving the current request.
type Principal struct {
	UserID      int64
	DisplayName string
	Role        Role
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
