package handler_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/bugtracker/internal/auth"
	"github.com/sumire/bugtracker/internal/authz"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/handler"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
	"github.com/sumire/bugtracker/internal/storage"
	"github.com/sumire/bugtracker/internal/testutil"
	"github.com/sumire/bugtracker/internal/view"
)

var csrfPattern = regexp.MustCompile(`name="_csrf" value="([^"]+)"`)

type testApp struct {
	srv     *httptest.Server
	db      *sqlx.DB
	users   *repository.UserRepository
	auth    *service.AuthService
	objects *storage.MemoryStore
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db := testutil.NewDB(t)
	tx := repository.NewTxManager(db)
	users := repository.NewUserRepository(db)
	projects := repository.NewProjectRepository(db)
	tickets := repository.NewTicketRepository(db)
	objects := storage.NewMemoryStore()

	policy, err := authz.NewPolicy()
	require.NoError(t, err)
	renderer, err := view.NewRenderer(policy, view.NewMarkdown(), time.UTC)
	require.NoError(t, err)

	authSvc := service.NewAuthService(users, auth.NewBcryptHasher(bcrypt.MinCost), tx, false)
	e := handler.NewRouter(handler.RouterDeps{
		Renderer: renderer,
		Policy:   policy,
		Sessions: session.NewManager(session.NewMemoryStore(), session.Config{Secret: "test-secret"}),
		Auth:     authSvc,
		OAuth:    service.NewOAuthService(users, tx, service.OAuthConfig{}),
		Users:    service.NewUserService(users),
		Projects: service.NewProjectService(projects, tickets, users, tx),
		Tickets: service.NewTicketService(service.TicketDeps{
			Tickets:     tickets,
			Comments:    repository.NewCommentRepository(db),
			Attachments: repository.NewAttachmentRepository(db),
			History:     repository.NewHistoryRepository(db),
			Projects:    projects,
			Users:       users,
			Objects:     objects,
			Tx:          tx,
		}),
		Dashboard: service.NewDashboardService(tickets, projects, time.UTC),
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, db: db, users: users, auth: authSvc, objects: objects}
}

// browser is an HTTP client that keeps cookies and does not follow
// redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: a.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return resp, b.read(resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("_csrf", b.token())
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	return resp, b.read(resp)
}

func (b *browser) upload(path, filename string, content []byte) (*http.Response, string) {
	b.t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(b.t, w.WriteField("_csrf", b.token()))
	require.NoError(b.t, w.WriteField("notes", "stack trace"))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(b.t, err)
	_, err = part.Write(content)
	require.NoError(b.t, err)
	require.NoError(b.t, w.Close())

	resp, err := b.client.Post(b.base+path, w.FormDataContentType(), &body)
	require.NoError(b.t, err)
	return resp, b.read(resp)
}

// follow requests the Location of a redirect.
func (b *browser) follow(resp *http.Response) string {
	b.t.Helper()
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	_, body := b.get(resp.Header.Get("Location"))
	return body
}

// token returns the CSRF token, fetching the login page once to get one.
func (b *browser) token() string {
	b.t.Helper()
	if b.csrf == "" {
		_, body := b.get("/login")
		m := csrfPattern.FindStringSubmatch(body)
		require.Len(b.t, m, 2, "no csrf token on the login page")
		b.csrf = m[1]
	}
	return b.csrf
}

func (b *browser) read(resp *http.Response) string {
	b.t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return string(body)
}

// signIn registers a user with role and logs the browser in as them.
func (a *testApp) signIn(t *testing.T, b *browser, name string, role domain.Role) int64 {
	t.Helper()
	ctx := context.Background()
	username := strings.ToLower(strings.ReplaceAll(name, " ", "_"))

	user, err := a.auth.Register(ctx, service.RegisterInput{
		Name:     name,
		Email:    username + "@example.com",
		Username: username,
		Password: "correct horse",
	})
	require.NoError(t, err)
	_, err = a.users.UpdateRole(ctx, user.ID, role)
	require.NoError(t, err)

	resp, _ := b.post("/login", url.Values{"username": {username}, "password": {"correct horse"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
	return user.ID
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	resp, body := app.browser(t).get("/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestProtectedRouteRedirectsToLogin(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.get("/tickets")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Contains(t, b.follow(resp), "You must be logged in to do that.")
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)

	t.Run("wrong password re-renders the form", func(t *testing.T) {
		b := app.browser(t)
		_, err := app.auth.Register(context.Background(), service.RegisterInput{
			Name: "Mallory", Email: "mallory@example.com", Username: "mallory", Password: "correct horse",
		})
		require.NoError(t, err)

		resp, body := b.post("/login", url.Values{"username": {"mallory"}, "password": {"wrong horse"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Username or password was incorrect.")
		assert.Contains(t, body, `value="mallory"`)
	})

	t.Run("success greets the user with their role", func(t *testing.T) {
		b := app.browser(t)
		app.signIn(t, b, "Dana Scully", domain.RoleDeveloper)

		resp, body := b.get("/dashboard")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "You are now logged in as Developer, Dana Scully.")

		// the flash is shown once
		_, body = b.get("/dashboard")
		assert.NotContains(t, body, "You are now logged in")
	})

	t.Run("signed in users skip the login page", func(t *testing.T) {
		b := app.browser(t)
		app.signIn(t, b, "Fox Mulder", domain.RoleDeveloper)

		resp, _ := b.get("/login")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	})
}

func TestRegister(t *testing.T) {
	app := newTestApp(t)

	t.Run("creates an unassigned account", func(t *testing.T) {
		b := app.browser(t)
		resp, _ := b.post("/register", url.Values{
			"first_name": {"Ada"},
			"last_name":  {"Lovelace"},
			"email":      {"ada@example.com"},
			"username":   {"ada"},
			"password":   {"analytical"},
		})
		assert.Contains(t, b.follow(resp), "You are now logged in to your new account, Ada Lovelace.")

		user, err := app.users.FindByUsername(context.Background(), "ada")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleUnassigned, user.Role)
		assert.Equal(t, "Ada Lovelace", user.Name)
	})

	t.Run("invalid input keeps the submitted values", func(t *testing.T) {
		b := app.browser(t)
		resp, body := b.post("/register", url.Values{
			"first_name": {"Grace"},
			"last_name":  {"Hopper"},
			"email":      {"not-an-email"},
			"username":   {"grace"},
			"password":   {"cobol1959"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Please enter a valid e-mail address.")
		assert.Contains(t, body, `value="Grace"`)
		assert.NotContains(t, body, "cobol1959")
	})

	t.Run("names that are each valid but too long together", func(t *testing.T) {
		b := app.browser(t)
		resp, body := b.post("/register", url.Values{
			"first_name": {strings.Repeat("a", 50)},
			"last_name":  {strings.Repeat("b", 50)},
			"email":      {"long@example.com"},
			"username":   {"longname"},
			"password":   {"long-enough"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "First and last name together must be at most 100 characters.")

		_, err := app.users.FindByUsername(context.Background(), "longname")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCSRFRejectsForgedForms(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.token()

	form := url.Values{
		"_csrf":      {"forged"},
		"first_name": {"Eve"},
		"last_name":  {"Forger"},
		"email":      {"eve@example.com"},
		"username":   {"eve"},
		"password":   {"password123"},
	}
	resp, err := b.client.PostForm(b.base+"/register", form)
	require.NoError(t, err)
	b.read(resp)

	assert.GreaterOrEqual(t, resp.StatusCode, http.StatusBadRequest)
	assert.Equal(t, 0, testutil.Count(t, app.db, "users"))
}

func TestRoleGating(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	app.signIn(t, b, "Dana Scully", domain.RoleDeveloper)

	resp, _ := b.get("/users")
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	assert.Contains(t, b.follow(resp), "You are not authorized to do that.")

	resp, _ = b.get("/projects/new")
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, _ = b.post("/projects/new", url.Values{"name": {"sneaky"}, "description": {"Not allowed"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	assert.Equal(t, 0, testutil.Count(t, app.db, "projects"))
}

func TestProjectCreate(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	app.signIn(t, b, "Paula Manager", domain.RoleProjectManager)

	resp, _ := b.post("/projects/new", url.Values{"name": {"bugtracker"}, "description": {"Track bugs"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Regexp(t, `^/projects/\d+$`, resp.Header.Get("Location"))
	assert.Contains(t, b.follow(resp), "You have successfully submitted a new project.")

	resp, body := b.post("/projects/new", url.Values{"name": {"bugtracker"}, "description": {"Again"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "That project name is already in use. A project name must be unique.")
	assert.Equal(t, 1, testutil.Count(t, app.db, "projects"))
}

// ticketFixture is a project managed by the signed-in user with one ticket
// assigned to a developer.
type ticketFixture struct {
	browser   *browser
	projectID int64
	devID     int64
	ticketID  int64
}

func newTicketFixture(t *testing.T, app *testApp) ticketFixture {
	t.Helper()
	b := app.browser(t)
	pmID := app.signIn(t, b, "Paula Manager", domain.RoleProjectManager)

	projectID := testutil.InsertProject(t, app.db, "bugtracker")
	testutil.Assign(t, app.db, projectID, pmID, domain.RoleProjectManager)
	devID := testutil.InsertUser(t, app.db, "Dana", domain.RoleDeveloper)
	testutil.Assign(t, app.db, projectID, devID, domain.RoleDeveloper)

	ticketID := testutil.InsertTicket(t, app.db, projectID, pmID, testutil.TicketOpts{
		DeveloperID: domain.DeveloperID(devID),
	})
	return ticketFixture{browser: b, projectID: projectID, devID: devID, ticketID: ticketID}
}

func (f ticketFixture) path(suffix string) string {
	return "/tickets/" + itoa(f.ticketID) + suffix
}

func (f ticketFixture) editForm() url.Values {
	return url.Values{
		"title":        {"Unable to login"},
		"description":  {"Login page returns 500."},
		"priority":     {string(domain.PriorityHigh)},
		"status":       {string(domain.TicketStatusOpen)},
		"type":         {string(domain.TicketTypeBug)},
		"developer_id": {itoa(f.devID)},
	}
}

func TestTicketUpdate(t *testing.T) {
	t.Run("unchanged form is rejected", func(t *testing.T) {
		app := newTestApp(t)
		f := newTicketFixture(t, app)

		resp, _ := f.browser.post(f.path(""), f.editForm())
		assert.Equal(t, f.path("/edit"), resp.Header.Get("Location"))
		assert.Contains(t, f.browser.follow(resp), "You did not make any changes.")
		assert.Equal(t, 0, testutil.Count(t, app.db, "ticket_update_history"))
	})

	t.Run("changes are saved and recorded", func(t *testing.T) {
		app := newTestApp(t)
		f := newTicketFixture(t, app)

		form := f.editForm()
		form.Set("status", string(domain.TicketStatusInProgress))
		form.Set("developer_id", "")

		resp, _ := f.browser.post(f.path(""), form)
		assert.Equal(t, f.path(""), resp.Header.Get("Location"))

		body := f.browser.follow(resp)
		assert.Contains(t, body, "You have successfully made changes to a ticket.")
		assert.Contains(t, body, "Ticket Status")
		assert.Contains(t, body, "Assigned Developer")
		assert.Equal(t, 2, testutil.Count(t, app.db, "ticket_update_history"))
	})

	t.Run("invalid status re-renders the form", func(t *testing.T) {
		app := newTestApp(t)
		f := newTicketFixture(t, app)

		form := f.editForm()
		form.Set("status", "Closed")

		resp, body := f.browser.post(f.path(""), form)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Please select a valid status.")
	})
}

func TestTicketCreate(t *testing.T) {
	app := newTestApp(t)
	f := newTicketFixture(t, app)

	resp, _ := f.browser.post("/tickets/new", url.Values{
		"project_id":  {itoa(f.projectID)},
		"title":       {"Dashboard is slow"},
		"description": {"Takes ten seconds to load."},
		"priority":    {string(domain.PriorityLow)},
		"type":        {string(domain.TicketTypeFeature)},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, f.browser.follow(resp), "You have successfully submitted a new ticket.")
	assert.Equal(t, 2, testutil.Count(t, app.db, "tickets"))
}

func TestTicketComments(t *testing.T) {
	app := newTestApp(t)
	f := newTicketFixture(t, app)

	resp, body := f.browser.post(f.path("/comment"), url.Values{"comment": {"   "}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Comment must be between 1 and 300 characters.")

	resp, _ = f.browser.post(f.path("/comment"), url.Values{"comment": {"Reproduced on **staging**."}})
	assert.Contains(t, f.browser.follow(resp), "<strong>staging</strong>")
	assert.Equal(t, 1, testutil.Count(t, app.db, "ticket_comments"))
}

func TestTicketAttachments(t *testing.T) {
	app := newTestApp(t)
	f := newTicketFixture(t, app)

	resp, _ := f.browser.upload(f.path("/attachments"), "trace.txt", []byte("panic: nil map"))
	assert.Contains(t, f.browser.follow(resp), "The attachment has been uploaded.")
	assert.Equal(t, 1, app.objects.Len())

	resp, body := f.browser.get(f.path("/trace.txt"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "panic: nil map", body)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "trace.txt")

	resp, _ = f.browser.get(f.path("/missing.txt"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTicketDestroy(t *testing.T) {
	app := newTestApp(t)
	f := newTicketFixture(t, app)

	resp, _ := f.browser.post(f.path("/destroy"), nil)
	assert.Equal(t, "/tickets", resp.Header.Get("Location"))
	assert.Contains(t, f.browser.follow(resp), "The ticket has been deleted.")

	resp, _ = f.browser.get(f.path(""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUsersAssignRole(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	adminID := app.signIn(t, b, "Ada Admin", domain.RoleAdmin)
	devID := testutil.InsertUser(t, app.db, "Dana", domain.RoleDeveloper)

	resp, _ := b.post("/users", url.Values{"user_id": {itoa(devID)}, "role": {string(domain.RoleQualityAssurance)}})
	assert.Contains(t, b.follow(resp), "You have successfully assigned Dana the role of Quality Assurance.")

	resp, body := b.post("/users", url.Values{"user_id": {itoa(adminID)}, "role": {string(domain.RoleDeveloper)}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "You cannot change your own role.")
}

func TestProfileUpdates(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	userID := app.signIn(t, b, "Dana Scully", domain.RoleDeveloper)

	resp, _ := b.post("/profile/info_update", url.Values{"name": {"Dana K. Scully"}, "email": {"dana@fbi.gov"}})
	assert.Contains(t, b.follow(resp), "Your profile has been updated.")

	user, err := app.users.FindByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Dana K. Scully", user.Name)

	resp, body := b.post("/profile/password_update", url.Values{
		"current_password": {"correct horse"},
		"new_password":     {"battery staple"},
		"confirm_password": {"battery stapler"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "The new passwords do not match.")

	resp, _ = b.post("/profile/password_update", url.Values{
		"current_password": {"correct horse"},
		"new_password":     {"battery staple"},
		"confirm_password": {"battery staple"},
	})
	assert.Contains(t, b.follow(resp), "Your password has been changed.")

	_, err = app.auth.Login(context.Background(), "dana_scully", "battery staple")
	assert.NoError(t, err)
}
