package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sumire/bugtracker/internal/domain"
)

// UserStore defines the user data access interface consumed by the services.
type UserStore interface {
	Create(ctx context.Context, user domain.User) (*domain.User, error)
	CreateLogin(ctx context.Context, userID int64, username, passwordHash string) error
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindCredentials(ctx context.Context, username string) (*domain.Credentials, error)
	FindCredentialsByUserID(ctx context.Context, userID int64) (*domain.Credentials, error)
	FindByIdentity(ctx context.Context, provider domain.AuthProvider, providerID string) (*domain.User, error)
	LinkIdentity(ctx context.Context, userID int64, provider domain.AuthProvider, providerID string) error
	List(ctx context.Context) ([]domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	IsLoginUnique(ctx context.Context, username string) (bool, error)
	IsEmailUnique(ctx context.Context, email string, exceptUserID int64) (bool, error)
	UpdateInfo(ctx context.Context, id int64, name, email string) (int64, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) (int64, error)
	UpdateRole(ctx context.Context, id int64, role domain.Role) (int64, error)
	UserName(ctx context.Context, id int64) (string, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	msgLoginInUse  = "That username or email is already in use."
	msgNameTooLong = "First and last name together must be at most 100 characters."
)

// DemoUsernames binds each demo login role to its seeded account.
var DemoUsernames = map[domain.Role]string{
	domain.RoleAdmin:            "demo_admin",
	domain.RoleProjectManager:   "demo_project_manager",
	domain.RoleDeveloper:        "demo_developer",
	domain.RoleQualityAssurance: "demo_quality_assurance",
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Name     string
	Email    string
	Username string
	Password string
}

// AuthService handles sign-up, sign-in and profile changes.
type AuthService struct {
	users       UserStore
	hasher      PasswordHasher
	tx          TxRunner
	demoEnabled bool
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, hasher PasswordHasher, tx TxRunner, demoEnabled bool) *AuthService {
	return &AuthService{users: users, hasher: hasher, tx: tx, demoEnabled: demoEnabled}
}

// DemoEnabled reports whether password-less demo logins are allowed.
func (s *AuthService) DemoEnabled() bool {
	return s.demoEnabled
}

// Register creates an unassigned user with a login.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	if utf8.RuneCountInString(in.Name) > domain.MaxUserNameLength {
		return nil, domain.NewValidationError("last_name", msgNameTooLong)
	}

	loginFree, err := s.users.IsLoginUnique(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	emailFree, err := s.users.IsEmailUnique(ctx, in.Email, 0)
	if err != nil {
		return nil, err
	}
	if !loginFree || !emailFree {
		return nil, domain.NewValidationError("username", msgLoginInUse)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		created, err := s.users.Create(ctx, domain.User{
			Name:  in.Name,
			Role:  domain.RoleUnassigned,
			Email: in.Email,
		})
		if err != nil {
			return err
		}
		if err := s.users.CreateLogin(ctx, created.ID, in.Username, hash); err != nil {
			return err
		}
		created.Username = &in.Username
		user = created
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewValidationError("username", msgLoginInUse)
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login checks a username and password. Unknown usernames and wrong
// passwords both return domain.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, error) {
	creds, err := s.users.FindCredentials(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.hasher.Verify(password, creds.PasswordHash); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	return s.users.FindByID(ctx, creds.UserID)
}

// DemoLogin returns the seeded demo account for role. It fails with
// domain.ErrNotFound when demo logins are disabled or the role has none.
func (s *AuthService) DemoLogin(ctx context.Context, role domain.Role) (*domain.User, error) {
	username, ok := DemoUsernames[role]
	if !s.demoEnabled || !ok {
		return nil, domain.ErrNotFound
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("demo login %s: %w", role, err)
	}
	return user, nil
}

// Principal resolves the identity of a signed-in user.
func (s *AuthService) Principal(ctx context.Context, userID int64) (*domain.Principal, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{UserID: user.ID, DisplayName: user.Name, Role: user.Role}, nil
}

// GetUser retrieves a user by ID.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

// UpdateInfo changes a user's name and e-mail.
func (s *AuthService) UpdateInfo(ctx context.Context, userID int64, name, email string) error {
	email = strings.TrimSpace(email)
	free, err := s.users.IsEmailUnique(ctx, email, userID)
	if err != nil {
		return err
	}
	if !free {
		return domain.NewValidationError("email", msgLoginInUse)
	}

	n, err := s.users.UpdateInfo(ctx, userID, strings.TrimSpace(name), email)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.NewValidationError("email", msgLoginInUse)
		}
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password after checking the current one.
func (s *AuthService) UpdatePassword(ctx context.Context, userID int64, current, next string) error {
	creds, err := s.users.FindCredentialsByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("current_password", "This account signs in without a password.")
		}
		return err
	}
	if err := s.hasher.Verify(current, creds.PasswordHash); err != nil {
		return domain.NewValidationError("current_password", "Your current password was incorrect.")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if _, err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	slog.Info("password updated", "user_id", userID)
	return nil
}
