package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/authz"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
)

const (
	contextKeySession   = "session"
	contextKeyPrincipal = "principal"

	msgSignInRequired = "You must be logged in to do that."
	msgNotAuthorized  = "You are not authorized to do that."
)

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the logged
				// status is the one the client sees.
				c.Error(err)
			}

			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if p := GetPrincipal(c); p != nil {
				attrs = append(attrs, "user_id", p.UserID)
			}
			slog.Info("http request", attrs...)

			return nil
		}
	}
}

// Sessions loads the browser session for every request and saves it right
// before the response headers are written.
func Sessions(m *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := m.Load(c.Request().Context(), c.Request())
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			c.Set(contextKeySession, s)

			c.Response().Before(func() {
				if err := m.Save(c.Request().Context(), c.Response(), s); err != nil {
					slog.Error("failed to save session", "error", err)
				}
			})

			return next(c)
		}
	}
}

// LoadPrincipal resolves the signed-in user of the session. Sessions of
// users that no longer exist are signed out.
func LoadPrincipal(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := GetSession(c)
			if s == nil || s.UserID() == 0 {
				return next(c)
			}

			p, err := auth.Principal(c.Request().Context(), s.UserID())
			switch {
			case errors.Is(err, domain.ErrNotFound):
				s.SetUserID(0)
			case err != nil:
				return err
			default:
				c.Set(contextKeyPrincipal, p)
			}
			return next(c)
		}
	}
}

// RequireSignedIn redirects anonymous visitors to the login page.
func RequireSignedIn() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetPrincipal(c) == nil {
				return redirectWithFlash(c, "/login", session.FlashError, msgSignInRequired)
			}
			return next(c)
		}
	}
}

// RequireAction lets through signed-in users whose role may perform action
// and sends everybody else to the dashboard.
func RequireAction(policy *authz.Policy, action authz.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return RequireSignedIn()(func(c echo.Context) error {
			p := GetPrincipal(c)
			if !policy.Allows(p.Role, action) {
				slog.Warn("action denied", "user_id", p.UserID, "role", p.Role, "action", action)
				return redirectWithFlash(c, "/dashboard", session.FlashError, msgNotAuthorized)
			}
			return next(c)
		})
	}
}

// RequireAnonymous sends signed-in users to the dashboard.
func RequireAnonymous() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetPrincipal(c) != nil {
				return c.Redirect(http.StatusFound, "/dashboard")
			}
			return next(c)
		}
	}
}

// GetSession returns the request's session.
func GetSession(c echo.Context) *session.Session {
	s, _ := c.Get(contextKeySession).(*session.Session)
	return s
}

// GetPrincipal returns the signed-in user, or nil.
func GetPrincipal(c echo.Context) *domain.Principal {
	p, _ := c.Get(contextKeyPrincipal).(*domain.Principal)
	return p
}

func setFlash(c echo.Context, kind session.FlashKind, message string) {
	if s := GetSession(c); s != nil {
		s.SetFlash(kind, message)
	}
}

func redirectWithFlash(c echo.Context, to string, kind session.FlashKind, message string) error {
	setFlash(c, kind, message)
	return c.Redirect(http.StatusFound, to)
}
