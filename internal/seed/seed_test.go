package seed_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/bugtracker/internal/auth"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/seed"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/testutil"
)

func TestParse_Demo(t *testing.T) {
	f, err := seed.Parse(bytes.NewReader(seed.DemoYAML))
	require.NoError(t, err)

	usernames := make(map[string]domain.Role)
	for _, u := range f.Users {
		usernames[u.Username] = u.Role
	}
	for role, username := range service.DemoUsernames {
		assert.Equal(t, role, usernames[username], username)
	}
	require.Len(t, f.Projects, 1)
	assert.Len(t, f.Projects[0].Tickets, 3)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key": `
users:
  - name: Ada
    email: ada@example.com
    username: ada
    role: admin
    shoe_size: 7
`,
		"unknown role": `
users:
  - name: Ada
    email: ada@example.com
    username: ada
    role: overlord
`,
		"member is not seeded": `
projects:
  - name: bugtracker
    description: Track bugs
    members: [ghost]
`,
		"bad ticket priority": `
users:
  - name: Ada
    email: ada@example.com
    username: ada
    role: admin
projects:
  - name: bugtracker
    description: Track bugs
    tickets:
      - title: Crash
        description: It crashes
        type: Bug/Error Report
        priority: Urgent
        submitter: ada
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := seed.Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	f, err := seed.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Users)
}

func TestSeeder_Apply(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	tx := repository.NewTxManager(db)
	users := repository.NewUserRepository(db)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	seeder := seed.NewSeeder(users, repository.NewProjectRepository(db), repository.NewTicketRepository(db), hasher, tx)

	f, err := seed.Parse(bytes.NewReader(seed.DemoYAML))
	require.NoError(t, err)

	res, err := seeder.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Users: 4, Projects: 1, Assignments: 3, Tickets: 3}, res)

	t.Run("a second run changes nothing", func(t *testing.T) {
		res, err := seeder.Apply(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, seed.Result{}, res)
		assert.Equal(t, 4, testutil.Count(t, db, "users"))
		assert.Equal(t, 3, testutil.Count(t, db, "tickets"))
	})

	t.Run("demo logins find the seeded accounts", func(t *testing.T) {
		authSvc := service.NewAuthService(users, hasher, tx, true)
		user, err := authSvc.DemoLogin(ctx, domain.RoleQualityAssurance)
		require.NoError(t, err)
		assert.Equal(t, "Demo Quality Assurance", user.Name)
		assert.Equal(t, domain.RoleQualityAssurance, user.Role)
	})

	t.Run("fixture passwords can be used to log in", func(t *testing.T) {
		doc := `
users:
  - name: Grace Hopper
    email: grace@example.com
    username: grace
    password: cobol1959
    role: developer
`
		f, err := seed.Parse(strings.NewReader(doc))
		require.NoError(t, err)
		_, err = seeder.Apply(ctx, f)
		require.NoError(t, err)

		authSvc := service.NewAuthService(users, hasher, tx, false)
		user, err := authSvc.Login(ctx, "grace", "cobol1959")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleDeveloper, user.Role)
	})
}
