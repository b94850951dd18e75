// Package seed loads demo users, projects and tickets from YAML fixtures.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sumire/bugtracker/internal/domain"
)

// DemoYAML holds the accounts used by the demo logins plus a sample project.
//
//go:embed demo.yaml
var DemoYAML []byte

// Fixture is the content of a seed file.
type Fixture struct {
	Users    []User    `yaml:"users"`
	Projects []Project `yaml:"projects"`
}

// User is a seeded account. An empty password gets a random one, which
// leaves the account reachable only through demo login.
type User struct {
	Name     string      `yaml:"name"`
	Email    string      `yaml:"email"`
	Username string      `yaml:"username"`
	Password string      `yaml:"password,omitempty"`
	Role     domain.Role `yaml:"role"`
}

// Project is a seeded project. Members are usernames and are assigned
// with their current role.
type Project struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Members     []string `yaml:"members"`
	Tickets     []Ticket `yaml:"tickets,omitempty"`
}

// Ticket is a seeded ticket. Submitter and Developer are usernames.
type Ticket struct {
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	Type        domain.TicketType   `yaml:"type"`
	Priority    domain.Priority     `yaml:"priority"`
	Status      domain.TicketStatus `yaml:"status,omitempty"`
	Submitter   string              `yaml:"submitter"`
	Developer   string              `yaml:"developer,omitempty"`
}

// Parse decodes a fixture and checks its enumerations and references.
// Unknown keys are rejected.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

func (f *Fixture) validate() error {
	usernames := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if strings.TrimSpace(u.Username) == "" || strings.TrimSpace(u.Name) == "" || strings.TrimSpace(u.Email) == "" {
			return fmt.Errorf("%w: user %d needs a name, e-mail and username", domain.ErrInvalidInput, i+1)
		}
		if !u.Role.IsValid() {
			return fmt.Errorf("%w: user %s has unknown role %q", domain.ErrInvalidInput, u.Username, u.Role)
		}
		usernames[u.Username] = true
	}

	for _, p := range f.Projects {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: project without a name", domain.ErrInvalidInput)
		}
		for _, m := range p.Members {
			if !usernames[m] {
				return fmt.Errorf("%w: project %s member %s is not a seeded user", domain.ErrInvalidInput, p.Name, m)
			}
		}
		for _, t := range p.Tickets {
			if !t.Type.IsValid() || !t.Priority.IsValid() || (t.Status != "" && !t.Status.IsValid()) {
				return fmt.Errorf("%w: ticket %q has an unknown type, priority or status", domain.ErrInvalidInput, t.Title)
			}
			if !usernames[t.Submitter] {
				return fmt.Errorf("%w: ticket %q submitter %s is not a seeded user", domain.ErrInvalidInput, t.Title, t.Submitter)
			}
			if t.Developer != "" && !usernames[t.Developer] {
				return fmt.Errorf("%w: ticket %q developer %s is not a seeded user", domain.ErrInvalidInput, t.Title, t.Developer)
			}
		}
	}
	return nil
}

// UserStore is the user data the seeder writes.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user domain.User) (*domain.User, error)
	CreateLogin(ctx context.Context, userID int64, username, passwordHash string) error
}

// ProjectStore is the project data the seeder writes.
type ProjectStore interface {
	List(ctx context.Context) ([]domain.ProjectSummary, error)
	Create(ctx context.Context, name, description string) (*domain.Project, error)
	IsAssigned(ctx context.Context, projectID, userID int64) (bool, error)
	Assign(ctx context.Context, a domain.Assignment) error
}

// TicketStore is the ticket data the seeder writes.
type TicketStore interface {
	Create(ctx context.Context, t domain.Ticket) (*domain.Ticket, error)
}

// Hasher hashes seeded passwords.
type Hasher interface {
	Hash(password string) (string, error)
}

// TxRunner runs fn in one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Result counts the records a seeding run created.
type Result struct {
	Users       int
	Projects    int
	Assignments int
	Tickets     int
}

// Seeder writes fixtures to the database.
type Seeder struct {
	users    UserStore
	projects ProjectStore
	tickets  TicketStore
	hasher   Hasher
	tx       TxRunner
}

// NewSeeder creates a new Seeder.
func NewSeeder(users UserStore, projects ProjectStore, tickets TicketStore, hasher Hasher, tx TxRunner) *Seeder {
	return &Seeder{users: users, projects: projects, tickets: tickets, hasher: hasher, tx: tx}
}

// Apply writes f in one transaction. Users and projects that already exist
// are kept as they are, so running the same fixture twice is a no-op.
// Tickets are only added to projects created by this run.
func (s *Seeder) Apply(ctx context.Context, f *Fixture) (Result, error) {
	var res Result
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		users := make(map[string]*domain.User, len(f.Users))
		for _, u := range f.Users {
			user, created, err := s.ensureUser(ctx, u)
			if err != nil {
				return err
			}
			if created {
				res.Users++
			}
			users[u.Username] = user
		}

		existing, err := s.projects.List(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]int64, len(existing))
		for _, p := range existing {
			byName[p.Name] = p.ID
		}

		for _, p := range f.Projects {
			projectID, ok := byName[p.Name]
			if !ok {
				created, err := s.projects.Create(ctx, p.Name, p.Description)
				if err != nil {
					return err
				}
				projectID = created.ID
				res.Projects++

				n, err := s.createTickets(ctx, projectID, p.Tickets, users)
				if err != nil {
					return err
				}
				res.Tickets += n
			}

			for _, m := range p.Members {
				user := users[m]
				assigned, err := s.projects.IsAssigned(ctx, projectID, user.ID)
				if err != nil {
					return err
				}
				if assigned {
					continue
				}
				if err := s.projects.Assign(ctx, domain.Assignment{
					ProjectID: projectID,
					UserID:    user.ID,
					Role:      user.Role,
				}); err != nil {
					return err
				}
				res.Assignments++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply seed: %w", err)
	}

	slog.Info("seed applied",
		"users", res.Users, "projects", res.Projects,
		"assignments", res.Assignments, "tickets", res.Tickets)
	return res, nil
}

func (s *Seeder) ensureUser(ctx context.Context, u User) (*domain.User, bool, error) {
	user, err := s.users.FindByUsername(ctx, u.Username)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	password := u.Password
	if password == "" {
		password = uuid.NewString()
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}

	user, err = s.users.Create(ctx, domain.User{Name: u.Name, Role: u.Role, Email: u.Email})
	if err != nil {
		return nil, false, fmt.Errorf("seed user %s: %w", u.Username, err)
	}
	if err := s.users.CreateLogin(ctx, user.ID, u.Username, hash); err != nil {
		return nil, false, fmt.Errorf("seed login %s: %w", u.Username, err)
	}
	return user, true, nil
}

func (s *Seeder) createTickets(ctx context.Context, projectID int64, tickets []Ticket, users map[string]*domain.User) (int, error) {
	now := time.Now().UTC()
	for i, t := range tickets {
		status := t.Status
		if status == "" {
			status = domain.TicketStatusOpen
		}
		developer := domain.Unassigned
		if t.Developer != "" {
			developer = domain.DeveloperID(users[t.Developer].ID)
		}
		// Spread creation times over the dashboard window.
		created := now.Add(-time.Duration(i) * 24 * time.Hour)

		if _, err := s.tickets.Create(ctx, domain.Ticket{
			Status:      status,
			Title:       t.Title,
			Description: t.Description,
			Type:        t.Type,
			Priority:    t.Priority,
			SubmitterID: users[t.Submitter].ID,
			ProjectID:   projectID,
			DeveloperID: developer,
			CreatedOn:   created,
			UpdatedOn:   created,
		}); err != nil {
			return 0, fmt.Errorf("seed ticket %q: %w", t.Title, err)
		}
	}
	return len(tickets), nil
}
