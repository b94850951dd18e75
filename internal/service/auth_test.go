package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/testutil"
)

func register(t *testing.T, env *testEnv, username string) *domain.User {
	t.Helper()
	user, err := env.auth.Register(context.Background(), service.RegisterInput{
		Name:     "Riley Park",
		Email:    username + "@example.com",
		Username: username,
		Password: "correct horse",
	})
	require.NoError(t, err)
	return user
}

func TestAuthService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := register(t, env, "riley")
	assert.Equal(t, domain.RoleUnassigned, user.Role)
	require.NotNil(t, user.Username)
	assert.Equal(t, "riley", *user.Username)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := env.auth.Register(ctx, service.RegisterInput{
			Name: "Other", Email: "other@example.com", Username: "riley", Password: "pw123456",
		})
		requireValidation(t, err, "That username or email is already in use.")
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := env.auth.Register(ctx, service.RegisterInput{
			Name: "Other", Email: "riley@example.com", Username: "other", Password: "pw123456",
		})
		requireValidation(t, err, "That username or email is already in use.")
	})

	t.Run("full name longer than a user row holds", func(t *testing.T) {
		_, err := env.auth.Register(ctx, service.RegisterInput{
			Name:     strings.Repeat("a", 50) + " " + strings.Repeat("b", 50),
			Email:    "long@example.com",
			Username: "long",
			Password: "pw123456",
		})
		requireValidation(t, err, "First and last name together must be at most 100 characters.")
		assert.Equal(t, 1, testutil.Count(t, env.db, "users"))
	})

	t.Run("full name at the limit", func(t *testing.T) {
		user, err := env.auth.Register(ctx, service.RegisterInput{
			Name:     strings.Repeat("a", 49) + " " + strings.Repeat("b", 50),
			Email:    "limit@example.com",
			Username: "limit",
			Password: "pw123456",
		})
		require.NoError(t, err)
		assert.Len(t, user.Name, domain.MaxUserNameLength)
	})
}

func TestAuthService_Login(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := register(t, env, "riley")

	user, err := env.auth.Login(ctx, "riley", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = env.auth.Login(ctx, "riley", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_DemoLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.principal(t, "Demo Developer", domain.RoleDeveloper).UserID
	require.NoError(t, env.users.CreateLogin(ctx, id, "demo_developer", "x"))

	user, err := env.auth.DemoLogin(ctx, domain.RoleDeveloper)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	_, err = env.auth.DemoLogin(ctx, domain.RoleUnassigned)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	disabled := service.NewAuthService(env.users, nil, nil, false)
	_, err = disabled.DemoLogin(ctx, domain.RoleDeveloper)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuthService_Principal(t *testing.T) {
	env := newTestEnv(t)
	p := env.principal(t, "Avery", domain.RoleProjectManager)

	got, err := env.auth.Principal(context.Background(), p.UserID)
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	_, err = env.auth.Principal(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuthService_UpdateInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	riley := register(t, env, "riley")
	register(t, env, "jordan")

	err := env.auth.UpdateInfo(ctx, riley.ID, "Riley P.", "jordan@example.com")
	requireValidation(t, err, "That username or email is already in use.")

	require.NoError(t, env.auth.UpdateInfo(ctx, riley.ID, " Riley P. ", "riley@example.com"))
	user, err := env.auth.GetUser(ctx, riley.ID)
	require.NoError(t, err)
	assert.Equal(t, "Riley P.", user.Name)
}

func TestAuthService_UpdatePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	riley := register(t, env, "riley")

	err := env.auth.UpdatePassword(ctx, riley.ID, "wrong", "new password")
	requireValidation(t, err, "Your current password was incorrect.")

	require.NoError(t, env.auth.UpdatePassword(ctx, riley.ID, "correct horse", "new password"))

	_, err = env.auth.Login(ctx, "riley", "correct horse")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = env.auth.Login(ctx, "riley", "new password")
	assert.NoError(t, err)

	oauthOnly := env.principal(t, "Casey", domain.RoleUnassigned)
	err = env.auth.UpdatePassword(ctx, oauthOnly.UserID, "x", "y")
	requireValidation(t, err, "This account signs in without a password.")
}
