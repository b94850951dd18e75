package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/bugtracker/internal/domain"
)

const userColumns = `u.id, u.name, u.role, u.email, u.created_at, ul.username`

// UserRepository handles user data access operations.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user row and returns it with its new ID.
func (r *UserRepository) Create(ctx context.Context, user domain.User) (*domain.User, error) {
	q := conn(ctx, r.db)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO users (name, role, email, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		user.Name, user.Role, user.Email, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		return nil, mapWriteError(err, "create user")
	}
	return &user, nil
}

// CreateLogin stores the login name and password hash for a user.
func (r *UserRepository) CreateLogin(ctx context.Context, userID int64, username, passwordHash string) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx,
		q.Rebind(`INSERT INTO user_logins (username, password, user_id) VALUES (?, ?, ?)`),
		username, passwordHash, userID)
	if err != nil {
		return mapWriteError(err, "create login")
	}
	return nil
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(
		`SELECT `+userColumns+`
		   FROM users AS u
		   LEFT JOIN user_logins AS ul ON ul.user_id = u.id
		  WHERE u.id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id %d: %w", id, err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by e-mail address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(
		`SELECT `+userColumns+`
		   FROM users AS u
		   LEFT JOIN user_logins AS ul ON ul.user_id = u.id
		  WHERE u.email = ?`), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByUsername retrieves a user by login name.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(
		`SELECT `+userColumns+`
		   FROM users AS u
		   JOIN user_logins AS ul ON ul.user_id = u.id
		  WHERE ul.username = ?`), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by username %s: %w", username, err)
	}
	return &user, nil
}

// FindCredentials returns the stored login for username.
func (r *UserRepository) FindCredentials(ctx context.Context, username string) (*domain.Credentials, error) {
	var creds domain.Credentials
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &creds,
		q.Rebind(`SELECT user_id, username, password FROM user_logins WHERE username = ?`), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find credentials: %w", err)
	}
	return &creds, nil
}

// FindCredentialsByUserID returns the stored login of a user.
func (r *UserRepository) FindCredentialsByUserID(ctx context.Context, userID int64) (*domain.Credentials, error) {
	var creds domain.Credentials
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &creds,
		q.Rebind(`SELECT user_id, username, password FROM user_logins WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find credentials for user %d: %w", userID, err)
	}
	return &creds, nil
}

// FindByIdentity retrieves the user linked to an OAuth account.
func (r *UserRepository) FindByIdentity(ctx context.Context, provider domain.AuthProvider, providerID string) (*domain.User, error) {
	var user domain.User
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(
		`SELECT `+userColumns+`
		   FROM users AS u
		   JOIN user_identities AS ui ON ui.user_id = u.id
		   LEFT JOIN user_logins AS ul ON ul.user_id = u.id
		  WHERE ui.provider = ? AND ui.provider_id = ?`), provider, providerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by provider %s/%s: %w", provider, providerID, err)
	}
	return &user, nil
}

// LinkIdentity links an OAuth account to a user.
func (r *UserRepository) LinkIdentity(ctx context.Context, userID int64, provider domain.AuthProvider, providerID string) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx,
		q.Rebind(`INSERT INTO user_identities (provider, provider_id, user_id) VALUES (?, ?, ?)`),
		provider, providerID, userID)
	if err != nil {
		return mapWriteError(err, "link identity")
	}
	return nil
}

// List returns every user ordered by name.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	users := []domain.User{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &users,
		`SELECT `+userColumns+`
		   FROM users AS u
		   LEFT JOIN user_logins AS ul ON ul.user_id = u.id
		  ORDER BY UPPER(u.name) ASC, u.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListByRole returns the users holding role ordered by name.
func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	users := []domain.User{}
	q := conn(ctx, r.db)
	err := sqlx.SelectContext(ctx, q, &users, q.Rebind(
		`SELECT `+userColumns+`
		   FROM users AS u
		   LEFT JOIN user_logins AS ul ON ul.user_id = u.id
		  WHERE u.role = ?
		  ORDER BY UPPER(u.name) ASC, u.id ASC`), role)
	if err != nil {
		return nil, fmt.Errorf("list users with role %s: %w", role, err)
	}
	return users, nil
}

// IsLoginUnique reports whether no login uses username.
func (r *UserRepository) IsLoginUnique(ctx context.Context, username string) (bool, error) {
	return r.notExists(ctx, `SELECT COUNT(*) FROM user_logins WHERE username = ?`, username)
}

// IsEmailUnique reports whether no user other than exceptUserID uses email.
// Pass 0 to check against every user.
func (r *UserRepository) IsEmailUnique(ctx context.Context, email string, exceptUserID int64) (bool, error) {
	return r.notExists(ctx, `SELECT COUNT(*) FROM users WHERE email = ? AND id <> ?`, email, exceptUserID)
}

func (r *UserRepository) notExists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int64
	q := conn(ctx, r.db)
	if err := sqlx.GetContext(ctx, q, &count, q.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("uniqueness check: %w", err)
	}
	return count == 0, nil
}

// UpdateInfo changes a user's name and e-mail.
func (r *UserRepository) UpdateInfo(ctx context.Context, id int64, name, email string) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET name = ?, email = ? WHERE id = ?`), name, email, id)
	if err != nil {
		return 0, mapWriteError(err, "update user info")
	}
	return rowsAffected(res, "update user info")
}

// UpdatePassword replaces the password hash of a user's login.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE user_logins SET password = ? WHERE user_id = ?`), passwordHash, userID)
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	return rowsAffected(res, "update password")
}

// UpdateRole assigns role to a user.
func (r *UserRepository) UpdateRole(ctx context.Context, id int64, role domain.Role) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET role = ? WHERE id = ?`), role, id)
	if err != nil {
		return 0, fmt.Errorf("update role: %w", err)
	}
	return rowsAffected(res, "update role")
}

// UserName returns the display name of a user.
func (r *UserRepository) UserName(ctx context.Context, id int64) (string, error) {
	var name string
	q := conn(ctx, r.db)
	err := sqlx.GetContext(ctx, q, &name, q.Rebind(`SELECT name FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("user name %d: %w", id, err)
	}
	return name, nil
}
