// ABOUTME: Tests for the SSO round-trip: start, token delivery, callback.
// ABOUTME: The callback test runs the real poller against the in-memory store.

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

	"github.com/2389/consoledeck/internal/auth"
	"github.com/2389/consoledeck/internal/store"
)

func signTestToken(t *testing.T, secret, subject string) string {
	t.Helper()

	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(subject, time.Hour)
	require.NoError(t, err)
	return token
}

func TestSSOStartRedirectsToIdP(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/start?next=/consoles/monitoring", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.internal.example", loc.Host)

	// The state parameter carries the portal session so the back-channel
	// can address the token delivery.
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	_, err = st.GetPortalSession(context.Background(), state)
	require.NoError(t, err)

	route, ok, err := st.TakeIntendedRoute(context.Background(), state)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/consoles/monitoring", route)
}

func TestSSOStartIgnoresExternalNext(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/sso/start?next=//evil.example.com", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	_, ok, err := st.TakeIntendedRoute(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, ok, "external redirect targets must not be stored")
}

func TestSSOStartDisabledWithoutIdP(t *testing.T) {
	p, _, _, _ := newTestPortal(t)
	p.config.IdPLoginURL = ""

	req := httptest.NewRequest(http.MethodGet, "/sso/start", nil)
	rec := httptest.NewRecorder()
	p.handleSSOStart(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSOTokenDelivery(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	sess := &store.PortalSession{
		ID:        "sso-sess",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))

	token := signTestToken(t, testJWTSecret, "alice@example.com")
	body := `{"session_id":"sso-sess","token":"` + token + `"}`
	req := httptest.NewRequest(http.MethodPost, "/sso/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := st.GetIdentityToken(context.Background(), "sso-sess")
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

func TestSSOTokenRejectsBadSignature(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	sess := &store.PortalSession{
		ID:        "sso-sess",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))

	token := signTestToken(t, "some-other-secret", "mallory@example.com")
	body := `{"session_id":"sso-sess","token":"` + token + `"}`
	req := httptest.NewRequest(http.MethodPost, "/sso/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := st.GetIdentityToken(context.Background(), "sso-sess")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSSOTokenUnknownSession(t *testing.T) {
	_, _, _, mux := newTestPortal(t)

	token := signTestToken(t, testJWTSecret, "alice@example.com")
	body := `{"session_id":"never-started","token":"` + token + `"}`
	req := httptest.NewRequest(http.MethodPost, "/sso/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSOCallbackCompletesLogin(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	sess := &store.PortalSession{
		ID:        "sso-sess",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))
	require.NoError(t, st.SetIntendedRoute(context.Background(), sess.ID, "/consoles/monitoring"))

	// Token already delivered via the back-channel before the browser
	// lands on the callback.
	token := signTestToken(t, testJWTSecret, "alice@example.com")
	require.NoError(t, st.PutIdentityToken(context.Background(), sess.ID, token))

	req := httptest.NewRequest(http.MethodGet, "/sso/callback", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/consoles/monitoring", rec.Header().Get("Location"))

	// The session is now bound to the token's subject.
	bound, err := st.GetPortalSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", bound.OperatorID)
}

func TestSSOCallbackCancelledByBrowser(t *testing.T) {
	_, st, _, mux := newTestPortal(t)

	sess := &store.PortalSession{
		ID:        "sso-sess",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreatePortalSession(context.Background(), sess))

	// No token will ever arrive; the browser gives up before the ceiling.
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sso/callback", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	mux.ServeHTTP(rec, req)

	// No redirect and no error page; the request simply ended.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestAuthErrorPageRefreshesToFallback(t *testing.T) {
	p, _, _, _ := newTestPortal(t)

	rec := httptest.NewRecorder()
	p.renderAuthErrorPage(rec, "Authentication timed out. Redirecting to the home page.", "/home", 3)

	body := rec.Body.String()
	assert.Contains(t, body, "Authentication timed out")
	assert.Contains(t, body, `content="3;url=/home"`)
	// The page carries the signed-out header, not the portal nav.
	assert.NotContains(t, body, "Sign out")
}
