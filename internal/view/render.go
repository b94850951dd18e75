// Package view renders the server-side HTML pages.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/bugtracker/internal/authz"
	"github.com/sumire/bugtracker/internal/domain"
	"github.com/sumire/bugtracker/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// Page is the data every template receives.
type Page struct {
	Title     string
	Principal *domain.Principal
	Flash     *session.Flash
	CSRF      string

	// Error is the message of a failed form submission and ErrorField the
	// field it belongs to.
	Error      string
	ErrorField string

	// Form holds submitted values to re-render a form with.
	Form any
	Data any
}

// Renderer implements echo.Renderer over the embedded templates.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page together with the shared layout. Times are
// shown in loc.
func NewRenderer(policy *authz.Policy, md *Markdown, loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	funcs := template.FuncMap{
		"can": func(p *domain.Principal, action string) bool {
			return p != nil && policy.Allows(p.Role, authz.Action(action))
		},
		"markdown": func(s string) template.HTML {
			out, err := md.ToHTML(s)
			if err != nil {
				slog.Warn("markdown render failed", "error", err)
				return template.HTML(template.HTMLEscapeString(s))
			}
			return out
		},
		"roleName":   func(r domain.Role) string { return r.DisplayName() },
		"fieldLabel": func(f domain.TicketField) string { return f.Label() },
		"date": func(t time.Time) string {
			return t.In(loc).Format("Jan 02, 2006")
		},
		"datetime": func(t time.Time) string {
			return t.In(loc).Format("Jan 02, 2006 3:04 PM")
		},
		"statuses":   func() []domain.TicketStatus { return domain.TicketStatuses },
		"priorities": func() []domain.Priority { return domain.Priorities },
		"types":      func() []domain.TicketType { return domain.TicketTypes },
		"roles":      func() []domain.Role { return domain.Roles },
		"upper":      strings.ToUpper,
	}

	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		name := strings.TrimSuffix(path.Base(file), ".html")
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, layoutFile, file)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render writes the named page inside the layout.
func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("template %s not found", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
