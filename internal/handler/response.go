package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/session"
	"github.com/sumire/bugtracker/internal/view"
)

// errorData is shown on the generic error page.
type errorData struct {
	Status  int
	Message string
}

// newPage returns the page skeleton for the current request and consumes
// the pending flash message.
func newPage(c echo.Context, title string) view.Page {
	p := view.Page{Title: title, Principal: GetPrincipal(c)}
	if s := GetSession(c); s != nil {
		p.Flash = s.PopFlash()
	}
	if token, ok := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string); ok {
		p.CSRF = token
	}
	return p
}

// withError sets the form error of page from err when err is a
// validation error and reports whether it was.
func withError(page *view.Page, err error) bool {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	page.Error = verr.Message
	page.ErrorField = verr.Field
	return true
}

// principal returns the signed-in user. Routes calling it sit behind
// RequireSignedIn.
func principal(c echo.Context) domain.Principal {
	if p := GetPrincipal(c); p != nil {
		return *p
	}
	return domain.Principal{}
}

// idParam parses a numeric path parameter. Malformed ids are not found.
func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

// HTTPErrorHandler is the global error handler for echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		err = redirectWithFlash(c, "/login", session.FlashError, msgSignInRequired)
	case errors.Is(err, domain.ErrForbidden):
		err = redirectWithFlash(c, "/dashboard", session.FlashError, msgNotAuthorized)
	default:
		status, message := mapError(err)
		page := newPage(c, http.StatusText(status))
		page.Data = errorData{Status: status, Message: message}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.Render(status, "error", page)
		}
	}
	if err != nil {
		slog.Error("failed to send error response", "error", err)
	}
}

func mapError(err error) (int, string) {
	// Handle echo's own HTTP errors (404, 405, etc.)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		if echoErr.Code >= http.StatusInternalServerError {
			slog.Error("http error", "error", err)
		}
		return echoErr.Code, msg
	}

	var validationErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "The page you were looking for does not exist."
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "The request could not be understood."
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "That change conflicts with existing data."
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Message
	default:
		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, "Something went wrong. Please try again later."
	}
}

// renderFormError re-renders a form page with the message of a validation
// error. Any other error is returned unchanged.
func renderFormError(c echo.Context, name string, page view.Page, err error) error {
	if !withError(&page, err) {
		return err
	}
	return c.Render(http.StatusOK, name, page)
}
