package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/sumire/bugtracker/internal/domain"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,30}$`)

// fieldMessages maps "form.field" to the message shown when the field fails
// any of its rules.
var fieldMessages = map[string]string{
	"loginForm.username": msgBadLogin,
	"loginForm.password": msgBadLogin,

	"registerForm.first_name": "First name must be between 1 and 50 characters.",
	"registerForm.last_name":  "Last name must be between 1 and 50 characters.",
	"registerForm.email":      "Please enter a valid e-mail address.",
	"registerForm.username":   "Username must be 2 to 30 letters, numbers, dashes or underscores.",
	"registerForm.password":   "Password must be between 8 and 72 characters.",

	"projectForm.name":        "Project name must be between 1 and 100 characters.",
	"projectForm.description": "Description must be between 1 and 300 characters.",

	"ticketForm.project_id":   "Please select a valid project.",
	"ticketForm.title":        "Ticket title must be between 1 and 100 characters.",
	"ticketForm.description":  "Description must be between 1 and 300 characters.",
	"ticketForm.priority":     "Please select a valid priority.",
	"ticketForm.status":       "Please select a valid status.",
	"ticketForm.type":         "Please select a valid ticket type.",
	"ticketForm.developer_id": "Please select a valid developer.",

	"commentForm.comment": "Comment must be between 1 and 300 characters.",

	"roleForm.user_id": "Please select a user.",
	"roleForm.role":    "Please select a valid role.",

	"infoForm.name":  "Name must be between 1 and 100 characters.",
	"infoForm.email": "Please enter a valid e-mail address.",

	"passwordForm.current_password": "Please enter your current password.",
	"passwordForm.new_password":     "Password must be between 8 and 72 characters.",
	"passwordForm.confirm_password": "The new passwords do not match.",
}

// AppValidator wraps go-playground/validator for echo.
type AppValidator struct {
	validator *validator.Validate
}

// NewAppValidator creates a new AppValidator with the tracker's enum rules.
func NewAppValidator() *AppValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their form names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	must(v.RegisterValidation("notblank", validators.NotBlank))
	must(v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("ticket_status", func(fl validator.FieldLevel) bool {
		return domain.TicketStatus(fl.Field().String()).IsValid()
	}))
	must(v.RegisterValidation("ticket_priority", func(fl validator.FieldLevel) bool {
		return domain.Priority(fl.Field().String()).IsValid()
	}))
	must(v.RegisterValidation("ticket_type", func(fl validator.FieldLevel) bool {
		return domain.TicketType(fl.Field().String()).IsValid()
	}))
	must(v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return domain.Role(fl.Field().String()).IsValid()
	}))

	return &AppValidator{validator: v}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validate validates a struct using go-playground/validator tags and
// reports the first failing field.
func (v *AppValidator) Validate(i any) error {
	if err := v.validator.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			msg, ok := fieldMessages[fe.Namespace()]
			if !ok {
				msg = fmt.Sprintf("failed on '%s' validation", fe.Tag())
			}
			return domain.NewValidationError(fe.Field(), msg)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
