package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
)

type roleForm struct {
	UserID int64  `form:"user_id" validate:"required,gt=0"`
	Role   string `form:"role" validate:"role"`
}

type infoForm struct {
	Name  string `form:"name" validate:"notblank,max=100"`
	Email string `form:"email" validate:"required,email,max=254"`
}

type passwordForm struct {
	CurrentPassword string `form:"current_password" validate:"required"`
	NewPassword     string `form:"new_password" validate:"min=8,max=72"`
	ConfirmPassword string `form:"confirm_password" validate:"eqfield=NewPassword"`
}

// UserHandler handles role management and the profile page.
type UserHandler struct {
	users *service.UserService
	auth  *service.AuthService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *service.UserService, auth *service.AuthService) *UserHandler {
	return &UserHandler{users: users, auth: auth}
}

// List renders every user with a role picker.
func (h *UserHandler) List(c echo.Context) error {
	return h.renderUsers(c, nil)
}

// AssignRole changes the role of one user.
func (h *UserHandler) AssignRole(c echo.Context) error {
	var form roleForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	if err := c.Validate(form); err != nil {
		return h.renderUsers(c, err)
	}

	user, err := h.users.AssignRole(c.Request().Context(), principal(c), form.UserID, domain.Role(form.Role))
	if err != nil {
		return h.renderUsers(c, err)
	}
	return redirectWithFlash(c, "/users", session.FlashSuccess,
		"You have successfully assigned "+user.Name+" the role of "+user.Role.DisplayName()+".")
}

func (h *UserHandler) renderUsers(c echo.Context, formErr error) error {
	users, err := h.users.List(c.Request().Context())
	if err != nil {
		return err
	}
	page := newPage(c, "Manage User Roles")
	page.Data = users
	if formErr != nil {
		return renderFormError(c, "users", page, formErr)
	}
	return c.Render(http.StatusOK, "users", page)
}

// Profile renders the signed-in user's profile.
func (h *UserHandler) Profile(c echo.Context) error {
	user, err := h.auth.GetUser(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return err
	}
	page := newPage(c, "Profile")
	page.Form = infoForm{Name: user.Name, Email: user.Email}
	page.Data = user
	return c.Render(http.StatusOK, "profile", page)
}

// UpdateInfo changes the signed-in user's name and e-mail.
func (h *UserHandler) UpdateInfo(c echo.Context) error {
	var form infoForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	userID := principal(c).UserID

	err := c.Validate(form)
	if err == nil {
		err = h.auth.UpdateInfo(c.Request().Context(), userID, form.Name, form.Email)
	}
	if err != nil {
		return h.renderProfile(c, &form, err)
	}
	return redirectWithFlash(c, "/profile", session.FlashSuccess, "Your profile has been updated.")
}

// UpdatePassword changes the signed-in user's password.
func (h *UserHandler) UpdatePassword(c echo.Context) error {
	var form passwordForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	userID := principal(c).UserID

	err := c.Validate(form)
	if err == nil {
		err = h.auth.UpdatePassword(c.Request().Context(), userID, form.CurrentPassword, form.NewPassword)
	}
	if err != nil {
		return h.renderProfile(c, nil, err)
	}
	return redirectWithFlash(c, "/profile", session.FlashSuccess, "Your password has been changed.")
}

// renderProfile re-renders the profile page with a form error. A nil form
// shows the stored name and e-mail.
func (h *UserHandler) renderProfile(c echo.Context, form *infoForm, formErr error) error {
	user, err := h.auth.GetUser(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return err
	}
	if form == nil {
		form = &infoForm{Name: user.Name, Email: user.Email}
	}
	page := newPage(c, "Profile")
	page.Form = *form
	page.Data = user
	return renderFormError(c, "profile", page, formErr)
}

