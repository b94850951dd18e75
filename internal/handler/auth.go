package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
)

const (
	msgBadLogin      = "Username or password was incorrect."
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600
)

type loginForm struct {
	Username string `form:"username" validate:"notblank"`
	Password string `form:"password" validate:"required"`
}

type registerForm struct {
	FirstName string `form:"first_name" validate:"notblank,max=50"`
	LastName  string `form:"last_name" validate:"notblank,max=50"`
	Email     string `form:"email" validate:"required,email,max=254"`
	Username  string `form:"username" validate:"username"`
	Password  string `form:"password" validate:"min=8,max=72"`
}

type loginData struct {
	Google    bool
	GitHub    bool
	DemoRoles []domain.Role
}

// AuthHandler handles sign-in, sign-up and sign-out.
type AuthHandler struct {
	auth     *service.AuthService
	oauth    *service.OAuthService
	sessions *session.Manager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{auth: auth, oauth: oauth, sessions: sessions}
}

// LoginPage renders the login form.
func (h *AuthHandler) LoginPage(c echo.Context) error {
	return h.renderLogin(c, http.StatusOK, loginForm{}, nil)
}

// Login signs a user in with a username and password.
func (h *AuthHandler) Login(c echo.Context) error {
	var form loginForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	if err := c.Validate(form); err != nil {
		return h.renderLogin(c, http.StatusOK, form, err)
	}

	user, err := h.auth.Login(c.Request().Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return h.renderLogin(c, http.StatusOK, form, domain.NewValidationError("username", msgBadLogin))
		}
		return err
	}
	return h.signIn(c, user, loggedInAs(user))
}

// DemoLogin signs in as the demo account of a role.
func (h *AuthHandler) DemoLogin(c echo.Context) error {
	role, ok := domain.ParseRole(c.Param("role"))
	if !ok {
		return domain.ErrNotFound
	}
	user, err := h.auth.DemoLogin(c.Request().Context(), role)
	if err != nil {
		return err
	}
	return h.signIn(c, user, loggedInAs(user))
}

// RegisterPage renders the sign-up form.
func (h *AuthHandler) RegisterPage(c echo.Context) error {
	page := newPage(c, "Register")
	page.Form = registerForm{}
	return c.Render(http.StatusOK, "register", page)
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
	var form registerForm
	if err := c.Bind(&form); err != nil {
		return err
	}

	page := newPage(c, "Register")
	page.Form = registerForm{FirstName: form.FirstName, LastName: form.LastName, Email: form.Email, Username: form.Username}
	if err := c.Validate(form); err != nil {
		if withError(&page, err) {
			return c.Render(http.StatusOK, "register", page)
		}
		return err
	}

	name := strings.TrimSpace(form.FirstName) + " " + strings.TrimSpace(form.LastName)
	user, err := h.auth.Register(c.Request().Context(), service.RegisterInput{
		Name:     name,
		Email:    form.Email,
		Username: form.Username,
		Password: form.Password,
	})
	if err != nil {
		if withError(&page, err) {
			return c.Render(http.StatusOK, "register", page)
		}
		return err
	}
	return h.signIn(c, user, fmt.Sprintf("You are now logged in to your new account, %s.", user.Name))
}

// Logout ends the session.
func (h *AuthHandler) Logout(c echo.Context) error {
	if s := GetSession(c); s != nil {
		h.sessions.Renew(s)
		s.SetFlash(session.FlashInfo, "You have been logged out.")
	}
	return c.Redirect(http.StatusFound, "/login")
}

// OAuthRedirect sends the user to the provider's consent page.
func (h *AuthHandler) OAuthRedirect(c echo.Context) error {
	provider := domain.AuthProvider(c.Param("provider"))
	if !h.oauth.Enabled(provider) {
		return domain.ErrNotFound
	}

	state, err := generateState()
	if err != nil {
		return err
	}
	url, err := h.oauth.AuthURL(provider, state)
	if err != nil {
		return err
	}

	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   oauthStateMaxAge,
	})
	return c.Redirect(http.StatusTemporaryRedirect, url)
}

// OAuthCallback finishes a provider sign-in.
func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	provider := domain.AuthProvider(c.Param("provider"))
	if !h.oauth.Enabled(provider) {
		return domain.ErrNotFound
	}
	if err := validateOAuthState(c); err != nil {
		return redirectWithFlash(c, "/login", session.FlashError, "Your sign-in attempt expired. Please try again.")
	}

	code := c.QueryParam("code")
	if code == "" {
		return redirectWithFlash(c, "/login", session.FlashError, "Sign-in was cancelled.")
	}

	user, err := h.oauth.Callback(c.Request().Context(), provider, code)
	if err != nil {
		slog.Warn("oauth callback failed", "provider", provider, "error", err)
		return redirectWithFlash(c, "/login", session.FlashError, "We could not sign you in with that account.")
	}

	c.SetCookie(&http.Cookie{Name: oauthStateCookie, Path: "/auth", MaxAge: -1})
	return h.signIn(c, user, loggedInAs(user))
}

// signIn moves the user onto a fresh session.
func (h *AuthHandler) signIn(c echo.Context, user *domain.User, message string) error {
	s := GetSession(c)
	h.sessions.Renew(s)
	s.SetUserID(user.ID)
	s.SetFlash(session.FlashSuccess, message)
	return c.Redirect(http.StatusFound, "/dashboard")
}

func (h *AuthHandler) renderLogin(c echo.Context, status int, form loginForm, err error) error {
	page := newPage(c, "Log In")
	page.Form = loginForm{Username: form.Username}

	data := loginData{
		Google: h.oauth.Enabled(domain.AuthProviderGoogle),
		GitHub: h.oauth.Enabled(domain.AuthProviderGitHub),
	}
	if h.auth.DemoEnabled() {
		data.DemoRoles = make([]domain.Role, 0, len(service.DemoUsernames))
		for _, role := range domain.Roles {
			if _, ok := service.DemoUsernames[role]; ok {
				data.DemoRoles = append(data.DemoRoles, role)
			}
		}
	}
	page.Data = data

	if err != nil && !withError(&page, err) {
		return err
	}
	return c.Render(status, "login", page)
}

func loggedInAs(user *domain.User) string {
	return fmt.Sprintf("You are now logged in as %s, %s.", user.Role.DisplayName(), user.Name)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func validateOAuthState(c echo.Context) error {
	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil {
		return errors.New("missing oauth_state cookie")
	}

	queryState := c.QueryParam("state")
	if queryState == "" || queryState != cookie.Value {
		return errors.New("state mismatch")
	}

	return nil
}
