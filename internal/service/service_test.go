package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/bugtracker/internal/auth"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/storage"
	"github.com/sumire/bugtracker/internal/testutil"
)

type testEnv struct {
	db       *sqlx.DB
	users    *repository.UserRepository
	projects *repository.ProjectRepository
	tickets  *repository.TicketRepository
	objects  *storage.MemoryStore
	deps     service.TicketDeps

	auth     *service.AuthService
	project  *service.ProjectService
	ticket   *service.TicketService
	userMgmt *service.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	tx := repository.NewTxManager(db)

	env := &testEnv{
		db:       db,
		users:    repository.NewUserRepository(db),
		projects: repository.NewProjectRepository(db),
		tickets:  repository.NewTicketRepository(db),
		objects:  storage.NewMemoryStore(),
	}
	env.auth = service.NewAuthService(env.users, auth.NewBcryptHasher(bcrypt.MinCost), tx, true)
	env.project = service.NewProjectService(env.projects, env.tickets, env.users, tx)
	env.deps = service.TicketDeps{
		Tickets:     env.tickets,
		Comments:    repository.NewCommentRepository(db),
		Attachments: repository.NewAttachmentRepository(db),
		History:     repository.NewHistoryRepository(db),
		Projects:    env.projects,
		Users:       env.users,
		Objects:     env.objects,
		Tx:          tx,
	}
	env.ticket = service.NewTicketService(env.deps)
	env.userMgmt = service.NewUserService(env.users)
	return env
}

// principal inserts a user with role and returns their identity.
func (e *testEnv) principal(t *testing.T, name string, role domain.Role) domain.Principal {
	t.Helper()
	id := testutil.InsertUser(t, e.db, name, role)
	return domain.Principal{UserID: id, DisplayName: name, Role: role}
}

func requireValidation(t *testing.T, err error, message string) {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	require.Equal(t, message, verr.Message)
}

// failingStore is an ObjectStore whose calls are provided per test.
type failingStore struct {
	putFn    func(ctx context.Context, key string, body []byte, contentType string) (string, error)
	getFn    func(ctx context.Context, key string) (*storage.Object, error)
	deleteFn func(ctx context.Context, key string) error
}

func (f *failingStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	return f.putFn(ctx, key, body, contentType)
}

func (f *failingStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	return f.getFn(ctx, key)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, key)
}
