package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/bugtracker/internal/authz"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
	"github.com/sumire/bugtracker/internal/view"
)

// RouterDeps holds everything the HTTP layer needs.
type RouterDeps struct {
	Renderer *view.Renderer
	Policy   *authz.Policy
	Sessions *session.Manager

	Auth      *service.AuthService
	OAuth     *service.OAuthService
	Users     *service.UserService
	Projects  *service.ProjectService
	Tickets   *service.TicketService
	Dashboard *service.DashboardService

	// SecureCookies marks the CSRF cookie Secure.
	SecureCookies bool
}

// NewRouter builds the echo application with every route registered.
func NewRouter(d RouterDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = d.Renderer
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("12M"))
	e.Use(Sessions(d.Sessions))
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "form:_csrf",
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   d.SecureCookies,
		CookieSameSite: http.SameSiteLaxMode,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
	}))
	e.Use(LoadPrincipal(d.Auth))

	authH := NewAuthHandler(d.Auth, d.OAuth, d.Sessions)
	dashboardH := NewDashboardHandler(d.Dashboard)
	projectH := NewProjectHandler(d.Projects)
	ticketH := NewTicketHandler(d.Tickets, d.Projects, d.Users)
	userH := NewUserHandler(d.Users, d.Auth)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/dashboard")
	})

	// Auth routes (anonymous)
	anon := e.Group("", RequireAnonymous())
	anon.GET("/login", authH.LoginPage)
	anon.POST("/login", authH.Login)
	anon.POST("/login/demo/:role", authH.DemoLogin)
	anon.GET("/register", authH.RegisterPage)
	anon.POST("/register", authH.Register)
	anon.GET("/auth/:provider", authH.OAuthRedirect)
	anon.GET("/auth/:provider/callback", authH.OAuthCallback)

	e.GET("/logout", authH.Logout)
	e.POST("/logout", authH.Logout)

	can := func(a authz.Action) echo.MiddlewareFunc {
		return RequireAction(d.Policy, a)
	}

	e.GET("/dashboard", dashboardH.Show, can(authz.ActionViewDashboard))

	// Project routes
	e.GET("/projects", projectH.List, can(authz.ActionViewProjects))
	e.GET("/projects/new", projectH.New, can(authz.ActionCreateProject))
	e.POST("/projects/new", projectH.Create, can(authz.ActionCreateProject))
	e.GET("/projects/:id", projectH.Show, can(authz.ActionViewProjects))
	e.POST("/projects/:id", projectH.Update, can(authz.ActionEditProject))
	e.GET("/projects/:id/edit", projectH.Edit, can(authz.ActionEditProject))
	e.GET("/projects/:id/users", projectH.Users, can(authz.ActionAssignProjectUsers))
	e.POST("/projects/:id/users", projectH.Assign, can(authz.ActionAssignProjectUsers))
	e.POST("/projects/:id/destroy", projectH.Destroy, can(authz.ActionDeleteProject))

	// Ticket routes
	e.GET("/tickets", ticketH.List, can(authz.ActionViewTickets))
	e.GET("/tickets/new", ticketH.New, can(authz.ActionCreateTicket))
	e.POST("/tickets/new", ticketH.Create, can(authz.ActionCreateTicket))
	e.GET("/tickets/:id", ticketH.Show, can(authz.ActionViewTickets))
	e.POST("/tickets/:id", ticketH.Update, can(authz.ActionEditTicket))
	e.GET("/tickets/:id/edit", ticketH.Edit, can(authz.ActionEditTicket))
	e.POST("/tickets/:id/comment", ticketH.Comment, can(authz.ActionCommentTicket))
	e.POST("/tickets/:id/comment/:commentID/destroy", ticketH.DestroyComment, can(authz.ActionDeleteComment))
	e.POST("/tickets/:id/attachments", ticketH.Upload, can(authz.ActionUploadAttachment))
	e.POST("/tickets/:id/destroy", ticketH.Destroy, can(authz.ActionDeleteTicket))
	e.GET("/tickets/:id/:filename", ticketH.Download, can(authz.ActionViewTickets))

	// User routes
	e.GET("/users", userH.List, can(authz.ActionManageUsers))
	e.POST("/users", userH.AssignRole, can(authz.ActionManageUsers))
	e.GET("/profile", userH.Profile, can(authz.ActionViewProfile))
	e.POST("/profile/info_update", userH.UpdateInfo, can(authz.ActionViewProfile))
	e.POST("/profile/password_update", userH.UpdatePassword, can(authz.ActionViewProfile))

	return e
}
