// Package authz holds the role policy table that guards every route.
package authz

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/sumire/bugtracker/internal/domain"
)

// Action is something a principal may be allowed to do.
type Action string

const (
	ActionViewDashboard      Action = "view_dashboard"
	ActionViewProfile        Action = "view_profile"
	ActionViewProjects       Action = "view_projects"
	ActionViewTickets        Action = "view_tickets"
	ActionCreateTicket       Action = "create_ticket"
	ActionCommentTicket      Action = "comment_ticket"
	ActionUploadAttachment   Action = "upload_attachment"
	ActionEditTicket         Action = "edit_ticket"
	ActionDeleteTicket       Action = "delete_ticket"
	ActionDeleteComment      Action = "delete_comment"
	ActionCreateProject      Action = "create_project"
	ActionEditProject        Action = "edit_project"
	ActionAssignProjectUsers Action = "assign_project_users"
	ActionDeleteProject      Action = "delete_project"
	ActionManageUsers        Action = "manage_users"
)

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

// Grants is the policy table: the actions each role adds on top of the
// roles it inherits.
var Grants = map[domain.Role][]Action{
	domain.RoleUnassigned: {
		ActionViewDashboard,
		ActionViewProfile,
		ActionViewProjects,
		ActionViewTickets,
		ActionCreateTicket,
		ActionCommentTicket,
		ActionUploadAttachment,
	},
	domain.RoleQualityAssurance: {
		ActionEditTicket,
	},
	domain.RoleProjectManager: {
		ActionCreateProject,
		ActionEditProject,
		ActionAssignProjectUsers,
		ActionDeleteTicket,
		ActionDeleteComment,
	},
	domain.RoleAdmin: {
		ActionDeleteProject,
		ActionManageUsers,
	},
}

// Inherits maps a role to the role whose actions it also holds.
var Inherits = map[domain.Role]domain.Role{
	domain.RoleAdmin:            domain.RoleProjectManager,
	domain.RoleProjectManager:   domain.RoleDeveloper,
	domain.RoleDeveloper:        domain.RoleQualityAssurance,
	domain.RoleQualityAssurance: domain.RoleUnassigned,
}

// Policy answers whether a role may perform an action.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy loads Grants and Inherits into a casbin RBAC enforcer.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse policy model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create policy enforcer: %w", err)
	}

	for role, actions := range Grants {
		for _, action := range actions {
			if _, err := enforcer.AddPolicy(string(role), string(action)); err != nil {
				return nil, fmt.Errorf("add policy %s/%s: %w", role, action, err)
			}
		}
	}
	for role, parent := range Inherits {
		if _, err := enforcer.AddGroupingPolicy(string(role), string(parent)); err != nil {
			return nil, fmt.Errorf("add role %s -> %s: %w", role, parent, err)
		}
	}

	return &Policy{enforcer: enforcer}, nil
}

// Allows reports whether role may perform action. Enforcement errors deny.
func (p *Policy) Allows(role domain.Role, action Action) bool {
	if !role.IsValid() {
		return false
	}
	ok, err := p.enforcer.Enforce(string(role), string(action))
	if err != nil {
		slog.Error("policy check failed", "error", err, "role", role, "action", action)
		return false
	}
	return ok
}
