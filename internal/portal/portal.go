// ABOUTME: Portal core: routes, cookie sessions, CSRF, and local operator login.
// ABOUTME: Provides authentication middleware for pages and the console API.

package portal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/consoledeck/internal/auth"
	"github.com/2389/consoledeck/internal/config"
	"github.com/2389/consoledeck/internal/dedupe"
	"github.com/2389/consoledeck/internal/session"
	"github.com/2389/consoledeck/internal/store"
)

const (
	// SessionCookieName is the name of the portal session cookie.
	SessionCookieName = "deck_session"

	// CSRFCookieName is the name of the CSRF token cookie.
	CSRFCookieName = "deck_csrf"

	// eventDedupeTTL is how long a frame event report shadows repeats.
	eventDedupeTTL = 5 * time.Second

	// eventDedupeSize bounds the dedupe cache.
	eventDedupeSize = 4096
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const sessionContextKey contextKey = "portal_session"
const csrfContextKey contextKey = "csrf_token"

// Config holds portal configuration.
type Config struct {
	// Consoles are the embedded consoles, in display order.
	Consoles []config.ConsoleConfig
	// IdPLoginURL is where the SSO redirect starts. Empty disables SSO.
	IdPLoginURL string
	// DefaultRoute is where users land when no intended route is stored.
	DefaultRoute string
	// SessionDuration is how long portal sessions last.
	SessionDuration time.Duration
}

// Portal handles all portal routes.
type Portal struct {
	store    store.Store
	registry *session.Registry
	identity *auth.Client
	dedupe   *dedupe.Cache
	config   Config
	logger   *slog.Logger

	// authAlert, when set, is told about SSO completion failures.
	authAlert func(message string)
}

// New creates a portal over the given store, registry, and identity client.
func New(st store.Store, registry *session.Registry, identity *auth.Client, cfg Config) *Portal {
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = "/home"
	}
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = 7 * 24 * time.Hour
	}
	return &Portal{
		store:    st,
		registry: registry,
		identity: identity,
		dedupe:   dedupe.New(eventDedupeTTL, eventDedupeSize),
		config:   cfg,
		logger:   slog.Default().With("component", "portal"),
	}
}

// SetAuthAlert installs the hook notified about SSO completion failures.
func (p *Portal) SetAuthAlert(fn func(message string)) {
	p.authAlert = fn
}

// Close releases portal resources.
func (p *Portal) Close() {
	p.dedupe.Close()
}

// RegisterRoutes registers all portal routes on the given mux.
func (p *Portal) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET /login", p.handleLoginPage)
	mux.HandleFunc("POST /login", p.handleLogin)
	mux.HandleFunc("GET /sso/start", p.handleSSOStart)
	mux.HandleFunc("POST /sso/token", p.handleSSOToken)
	mux.HandleFunc("GET /sso/callback", p.handleSSOCallback)

	// Protected routes (auth required)
	mux.HandleFunc("GET /{$}", p.requireAuth(p.handleHome))
	mux.HandleFunc("GET /home", p.requireAuth(p.handleHome))
	mux.HandleFunc("GET /help", p.requireAuth(p.handleHelp))
	mux.HandleFunc("POST /logout", p.requireAuth(p.handleLogout))

	// Console pages and API
	mux.HandleFunc("GET /consoles/{name}", p.requireAuth(p.handleConsolePage))
	mux.HandleFunc("GET /api/consoles", p.requireAuth(p.handleConsoleList))
	mux.HandleFunc("GET /api/consoles/{name}/state", p.requireAuth(p.handleConsoleState))
	mux.HandleFunc("POST /api/consoles/{name}/events", p.requireAuth(p.handleConsoleEvent))

	p.logger.Info("portal routes registered", "consoles", len(p.config.Consoles))
}

// requireAuth wraps a handler to require an authenticated portal session.
func (p *Portal) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := p.sessionFromRequest(r)
		if err != nil || sess.OperatorID == "" {
			p.redirectToLogin(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next(w, r.WithContext(ctx))
	}
}

// redirectToLogin remembers where the user was headed, then sends them to
// the login page. The stored route is what the authflow poller restores
// after the SSO round-trip.
func (p *Portal) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if target := r.URL.Path; validIntendedRoute(target) && target != "/login" {
		sess, err := p.ensureSession(w, r)
		if err == nil {
			if err := p.store.SetIntendedRoute(r.Context(), sess.ID, target); err != nil {
				p.logger.Warn("failed to store intended route", "error", err)
			}
		}
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// sessionFromRequest resolves the portal session from the cookie.
func (p *Portal) sessionFromRequest(r *http.Request) (*store.PortalSession, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, err
	}

	sess, err := p.store.GetPortalSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = p.store.DeletePortalSession(r.Context(), sess.ID)
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// ensureSession returns the current portal session, creating an anonymous
// one (and setting the cookie) if the browser has none yet. Anonymous
// sessions carry the SSO round-trip state before any operator is bound.
func (p *Portal) ensureSession(w http.ResponseWriter, r *http.Request) (*store.PortalSession, error) {
	if sess, err := p.sessionFromRequest(r); err == nil {
		return sess, nil
	}

	id, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}
	sess := &store.PortalSession{
		ID:        id,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(p.config.SessionDuration),
	}
	if err := p.store.CreatePortalSession(r.Context(), sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// sessionFromContext retrieves the authenticated session from the request context.
func sessionFromContext(r *http.Request) *store.PortalSession {
	sess, _ := r.Context().Value(sessionContextKey).(*store.PortalSession)
	return sess
}

// getCSRFToken retrieves the CSRF token from the request context.
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context.
func (p *Portal) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		p.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // Will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from the form or header against the cookie.
func (p *Portal) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	token := r.FormValue("csrf_token")
	if token == "" {
		token = r.Header.Get("X-CSRF-Token")
	}
	return token != "" && token == cookie.Value
}

// handleLoginPage renders the login page.
func (p *Portal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// Already logged in: straight to the portal
	if sess, err := p.sessionFromRequest(r); err == nil && sess.OperatorID != "" {
		http.Redirect(w, r, p.config.DefaultRoute, http.StatusSeeOther)
		return
	}

	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderLoginPage(w, "", csrfToken)
}

// handleLogin processes local operator login.
func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid form data", csrfToken)
		return
	}

	if !p.validateCSRF(r) {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid request, please try again", csrfToken)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Username and password required", csrfToken)
		return
	}

	op, err := p.store.GetOperatorByUsername(r.Context(), username)

	// Dummy hash keeps the comparison constant-time when the operator
	// doesn't exist, so usernames can't be enumerated by timing.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			_, csrfToken := p.ensureCSRFToken(w, r)
			p.renderLoginPage(w, "Invalid username or password", csrfToken)
			return
		}
		p.logger.Error("failed to get operator", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "An error occurred", csrfToken)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid username or password", csrfToken)
		return
	}

	sess, err := p.ensureSession(w, r)
	if err != nil {
		p.logger.Error("failed to create session", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "An error occurred", csrfToken)
		return
	}
	if err := p.store.BindPortalSession(r.Context(), sess.ID, op.ID); err != nil {
		p.logger.Error("failed to bind session", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "An error occurred", csrfToken)
		return
	}

	p.logger.Info("operator login successful", "username", username)

	// A stored intended route wins over the default landing page.
	if route, ok, err := p.store.TakeIntendedRoute(r.Context(), sess.ID); err == nil && ok {
		http.Redirect(w, r, route, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, p.config.DefaultRoute, http.StatusSeeOther)
}

// handleLogout ends the portal session and resets every console.
func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		if !p.validateCSRF(r) {
			p.logger.Warn("logout request with invalid CSRF token")
		}
	}

	sess := sessionFromContext(r)
	if sess != nil {
		_ = p.store.DeletePortalSession(r.Context(), sess.ID)
	}

	// Fresh login gets fresh console lifecycles.
	p.registry.ResetAll()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// isAPIPath reports whether the request targets the JSON API.
func isAPIPath(path string) bool {
	return len(path) >= 5 && path[:5] == "/api/"
}

// validIntendedRoute accepts only local absolute paths, rejecting
// protocol-relative and external redirect targets.
func validIntendedRoute(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}
	if len(path) > 1 && path[1] == '/' {
		return false
	}
	return true
}

// generateSecureToken returns a hex-encoded random token.
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
