// ABOUTME: Template rendering functions for the portal UI.
// ABOUTME: Loads templates from the embedded filesystem; markdown via goldmark.

package portal

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/consoledeck/internal/session"
)

// Template data types
type loginData struct {
	Title     string
	Error     string
	CSRFToken string
	SSO       bool
}

type homeConsole struct {
	Name        string
	Label       string
	State       session.LoadingState
	Description template.HTML
}

type homeData struct {
	Title     string
	Consoles  []homeConsole
	CSRFToken string
}

type consolePageData struct {
	Title     string
	Snapshot  session.Snapshot
	CSRFToken string
}

type authErrorData struct {
	Title        string
	Message      string
	Destination  string
	DelaySeconds int
}

type helpData struct {
	Title     string
	Content   template.HTML
	CSRFToken string
}

// renderLoginPage renders the login page.
func (p *Portal) renderLoginPage(w http.ResponseWriter, errorMsg, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/login.html"))

	data := loginData{
		Title:     "Login",
		Error:     errorMsg,
		CSRFToken: csrfToken,
		SSO:       p.config.IdPLoginURL != "",
	}
	p.execute(w, tmpl, data)
}

// renderHomePage renders the portal dashboard with console navigation.
func (p *Portal) renderHomePage(w http.ResponseWriter, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/home.html"))

	snapshots := make(map[string]session.Snapshot)
	for _, snap := range p.registry.List() {
		snapshots[snap.Console] = snap
	}

	data := homeData{Title: "Consoles", CSRFToken: csrfToken}
	for _, c := range p.config.Consoles {
		hc := homeConsole{
			Name:        c.Name,
			Label:       c.Label,
			Description: renderMarkdown(c.Description),
		}
		if snap, ok := snapshots[c.Name]; ok {
			hc.State = snap.State
		}
		data.Consoles = append(data.Consoles, hc)
	}
	p.execute(w, tmpl, data)
}

// renderConsolePage renders one console's frame page.
func (p *Portal) renderConsolePage(w http.ResponseWriter, snap session.Snapshot, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/console.html"))

	data := consolePageData{
		Title:     snap.Label,
		Snapshot:  snap,
		CSRFToken: csrfToken,
	}
	p.execute(w, tmpl, data)
}

// renderAuthErrorPage renders the SSO failure page. The page shows the
// failure message, then meta-refreshes to the fallback destination.
func (p *Portal) renderAuthErrorPage(w http.ResponseWriter, message, destination string, delaySeconds int) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/auth_error.html"))

	data := authErrorData{
		Title:        "Sign-in failed",
		Message:      message,
		Destination:  destination,
		DelaySeconds: delaySeconds,
	}
	p.execute(w, tmpl, data)
}

// handleHome renders the portal dashboard.
func (p *Portal) handleHome(w http.ResponseWriter, r *http.Request) {
	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderHomePage(w, csrfToken)
}

// handleHelp renders the embedded help document.
func (p *Portal) handleHelp(w http.ResponseWriter, r *http.Request) {
	r, csrfToken := p.ensureCSRFToken(w, r)

	md, err := templateFS.ReadFile("templates/help.md")
	if err != nil {
		p.logger.Error("failed to read help content", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/help.html"))
	data := helpData{
		Title:     "Help",
		Content:   renderMarkdown(string(md)),
		CSRFToken: csrfToken,
	}
	p.execute(w, tmpl, data)
}

// renderMarkdown converts trusted markdown (config and embedded content)
// to HTML.
func renderMarkdown(md string) template.HTML {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// execute writes a rendered template.
func (p *Portal) execute(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render template", "error", err)
	}
}
