// ABOUTME: Tests for portal sessions, login, CSRF, and auth middleware.
// ABOUTME: Uses the in-memory store and httptest against the real mux.

package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/consoledeck/internal/auth"
	"github.com/2389/consoledeck/internal/config"
	"github.com/2389/consoledeck/internal/session"
	"github.com/2389/consoledeck/internal/store"
)

const testJWTSecret = "portal-test-secret"

func newTestPortal(t *testing.T) (*Portal, *store.MockStore, *session.Registry, *http.ServeMux) {
	t.Helper()

	st := store.NewMockStore()
	reg := session.NewRegistry(session.RegistryOptions{})
	_, err := reg.Register("monitoring", "Monitoring", "https://grafana.internal.example/")
	require.NoError(t, err)

	identity := auth.NewClient(st, auth.NewJWTVerifier([]byte(testJWTSecret)))
	p := New(st, reg, identity, Config{
		Consoles: []config.ConsoleConfig{{
			Name:        "monitoring",
			Label:       "Monitoring",
			URL:         "https://grafana.internal.example/",
			Description: "Dashboards and alerting.",
		}},
		IdPLoginURL:     "https://idp.internal.example/login",
		DefaultRoute:    "/home",
		SessionDuration: time.Hour,
	})
	t.Cleanup(p.Close)

	mux := http.NewServeMux()
	p.RegisterRoutes(mux)
	return p, st, reg, mux
}

// newAuthedSession seeds a logged-in portal session and returns the cookies
// a browser would carry.
func newAuthedSession(t *testing.T, st *store.MockStore) (sessionCookie, csrfCookie *http.Cookie) {
	t.Helper()

	sess := &store.PortalSession{
		ID:        "test-session",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))
	require.NoError(t, st.BindPortalSession(context.Background(), sess.ID, "op-1"))

	return &http.Cookie{Name: SessionCookieName, Value: sess.ID},
		&http.Cookie{Name: CSRFCookieName, Value: "test-csrf-token"}
}

func createOperator(t *testing.T, st *store.MockStore, username, password string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.CreateOperator(context.Background(), &store.Operator{
		ID:           "op-1",
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}))
}

func TestRequireAuthRedirectsToLogin(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/consoles/monitoring", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	// The redirect creates an anonymous session carrying the intended route.
	var sessID string
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessID = c.Value
		}
	}
	require.NotEmpty(t, sessID, "anonymous session cookie should be set")

	route, ok, err := st.TakeIntendedRoute(context.Background(), sessID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/consoles/monitoring", route)
}

func TestRequireAuthAPIUnauthorized(t *testing.T) {
	_, _, _, mux := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/api/consoles", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsAnonymousSession(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	// Session exists but no operator is bound yet.
	sess := &store.PortalSession{
		ID:        "anon",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestExpiredSessionIsDeleted(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	sess := &store.PortalSession{
		ID:         "stale",
		OperatorID: "op-1",
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)

	_, err := st.GetPortalSession(context.Background(), sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoginSuccess(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	createOperator(t, st, "alice", "opensesame")

	form := url.Values{
		"csrf_token": {"test-csrf-token"},
		"username":   {"alice"},
		"password":   {"opensesame"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "test-csrf-token"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))

	// Session is bound to the operator.
	var sessID string
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessID = c.Value
		}
	}
	require.NotEmpty(t, sessID)
	sess, err := st.GetPortalSession(context.Background(), sessID)
	require.NoError(t, err)
	assert.Equal(t, "op-1", sess.OperatorID)
}

func TestLoginRestoresIntendedRoute(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	createOperator(t, st, "alice", "opensesame")

	// An earlier redirect stored where the operator was headed.
	sess := &store.PortalSession{
		ID:        "pending",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))
	require.NoError(t, st.SetIntendedRoute(context.Background(), sess.ID, "/consoles/monitoring"))

	form := url.Values{
		"csrf_token": {"test-csrf-token"},
		"username":   {"alice"},
		"password":   {"opensesame"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "test-csrf-token"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/consoles/monitoring", rec.Header().Get("Location"))

	// The route slot is take-once.
	_, ok, err := st.TakeIntendedRoute(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoginWrongPassword(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	createOperator(t, st, "alice", "opensesame")

	form := url.Values{
		"csrf_token": {"test-csrf-token"},
		"username":   {"alice"},
		"password":   {"wrong"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "test-csrf-token"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestLoginUnknownUserSameError(t *testing.T) {
	_, _, _, mux := newTestPortal(t)

	form := url.Values{
		"csrf_token": {"test-csrf-token"},
		"username":   {"nobody"},
		"password":   {"whatever"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "test-csrf-token"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestLoginRejectsMissingCSRF(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	createOperator(t, st, "alice", "opensesame")

	form := url.Values{
		"username": {"alice"},
		"password": {"opensesame"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request")
}

func TestLogoutClearsSessionAndConsoles(t *testing.T) {
	_, st, reg, mux := newTestPortal(t)
	sessCookie, csrfCookie := newAuthedSession(t, st)

	ctrl, _ := reg.Get("monitoring")
	ctrl.SetLoading()
	ctrl.SetLoaded()

	form := url.Values{"csrf_token": {csrfCookie.Value}}
	req := httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(sessCookie)
	req.AddCookie(csrfCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	_, err := st.GetPortalSession(context.Background(), sessCookie.Value)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Console lifecycles restart for the next login.
	snap := ctrl.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Zero(t, snap.RetryCount)
}

func TestLoginPageRedirectsWhenAuthenticated(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	sessCookie, _ := newAuthedSession(t, st)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(sessCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
}

func TestLoginPageHidesPortalNav(t *testing.T) {
	_, _, _, mux := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")
	assert.NotContains(t, rec.Body.String(), "Sign out")
}

func TestHomePageListsConsoles(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	sessCookie, _ := newAuthedSession(t, st)

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(sessCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Monitoring")
	assert.Contains(t, rec.Body.String(), "/consoles/monitoring")
}

func TestHelpPageRendersMarkdown(t *testing.T) {
	_, st, _, mux := newTestPortal(t)
	sessCookie, _ := newAuthedSession(t, st)

	req := httptest.NewRequest(http.MethodGet, "/help", nil)
	req.AddCookie(sessCookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1")
	assert.Contains(t, rec.Body.String(), "Console Deck Help")
}

func TestValidIntendedRoute(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/home", true},
		{"/consoles/monitoring", true},
		{"", false},
		{"relative", false},
		{"//evil.example.com", false},
		{"https://evil.example.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, validIntendedRoute(tt.path), "path %q", tt.path)
	}
}
