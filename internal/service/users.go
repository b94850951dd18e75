package service

import (
	"context"
	"log/slog"

	"github.com/sumire/bugtracker/internal/domain"
)

// UserService lets admins manage roles.
type UserService struct {
	users UserStore
}

// NewUserService creates a new UserService.
func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// List returns every user.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

// Developers returns the users a ticket can be assigned to.
func (s *UserService) Developers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListByRole(ctx, domain.RoleDeveloper)
}

// AssignRole changes the role of a user. Admins cannot change their own role.
func (s *UserService) AssignRole(ctx context.Context, actor domain.Principal, userID int64, role domain.Role) (*domain.User, error) {
	if !role.IsValid() {
		return nil, domain.NewValidationError("role", "Please select a valid role.")
	}
	if userID == actor.UserID {
		return nil, domain.NewValidationError("role", "You cannot change your own role.")
	}

	n, err := s.users.UpdateRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}

	slog.Info("role assigned", "user_id", userID, "role", role, "by", actor.UserID)
	return s.users.FindByID(ctx, userID)
}
