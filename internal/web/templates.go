// ABOUTME: Template rendering functions for the chat front end
// ABOUTME: Loads templates from embedded filesystem and renders them

package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/parlorhq/parlor-web/internal/theme"
)

// Template data types
type pageBase struct {
	Title   string
	AppName string
	Theme   theme.Preset
	User    *SessionUser
}

type loginData struct {
	pageBase
	Error     string
	CSRFToken string
}

type signupData struct {
	pageBase
	Error     string
	CSRFToken string
}

type chatPageData struct {
	pageBase
	Welcome   template.HTML
	CSRFToken string
}

type chatReplyData struct {
	Sent  template.HTML
	Reply template.HTML
	Error string
}

type setupData struct {
	pageBase
	Error        string
	NeedPassword bool
	URL          string
	CSRFToken    string
}

type adminData struct {
	pageBase
	Settings  map[string]string
	Presets   []theme.Preset
	Notice    string
	Error     string
	CSRFToken string
}

type userRow struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type usersListData struct {
	Users     []userRow
	CSRFToken string
}

type errorData struct {
	pageBase
	Message   string
	CanReset  bool
	CSRFToken string
}

type loadingData struct {
	pageBase
	Phase    string
	Progress int
}

// renderMarkdown converts untrusted markdown to HTML. goldmark escapes raw
// HTML by default, so the result is safe to mark as template.HTML.
func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func (s *Server) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+page))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render page", "page", page, "error", err)
	}
}

func (s *Server) renderPartial(w http.ResponseWriter, partial string, data any) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/partials/"+partial))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render partial", "partial", partial, "error", err)
	}
}
