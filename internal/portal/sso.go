// ABOUTME: SSO redirect flow handlers: start, back-channel token delivery, callback.
// ABOUTME: The callback runs the authflow poller and restores the intended route.

package portal

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/2389/consoledeck/internal/authflow"
)

// ssoNavigator captures the single navigation a poller run produces so the
// callback handler can turn it into an HTTP response.
type ssoNavigator struct {
	path string
}

func (n *ssoNavigator) Navigate(path string) { n.path = path }

// handleSSOStart begins the SSO round-trip: remember where the user was
// headed, then hand the browser to the identity provider.
func (p *Portal) handleSSOStart(w http.ResponseWriter, r *http.Request) {
	if p.config.IdPLoginURL == "" {
		http.Error(w, "SSO is not configured", http.StatusNotFound)
		return
	}

	sess, err := p.ensureSession(w, r)
	if err != nil {
		p.logger.Error("failed to create session for SSO", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if next := r.URL.Query().Get("next"); validIntendedRoute(next) {
		if err := p.store.SetIntendedRoute(r.Context(), sess.ID, next); err != nil {
			p.logger.Warn("failed to store intended route", "error", err)
		}
	}

	target, err := url.Parse(p.config.IdPLoginURL)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("state", sess.ID)
	target.RawQuery = q.Encode()

	p.logger.Info("starting SSO round-trip", "session_id", sess.ID)
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// handleSSOToken is the IdP back-channel: it delivers the signed token for
// a session. The signature is checked before the token is stored; only a
// holder of the shared secret can complete authentication.
func (p *Portal) handleSSOToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Token == "" {
		http.Error(w, "session_id and token are required", http.StatusBadRequest)
		return
	}

	if _, err := p.identity.VerifyToken(req.Token); err != nil {
		p.logger.Warn("rejected unverifiable token delivery", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if _, err := p.store.GetPortalSession(r.Context(), req.SessionID); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	if err := p.store.PutIdentityToken(r.Context(), req.SessionID, req.Token); err != nil {
		p.logger.Error("failed to store identity token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p.logger.Info("identity token delivered", "session_id", req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSSOCallback is where the IdP redirect lands. The token arrives
// asynchronously via the back-channel, so the handler waits on the
// authflow poller; the poller's single navigation becomes either a
// redirect (success) or the refresh target of the failure page.
func (p *Portal) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	sess, err := p.ensureSession(w, r)
	if err != nil {
		p.logger.Error("failed to resolve session for SSO callback", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	nav := &ssoNavigator{}
	cfg := authflow.DefaultConfig()
	cfg.DefaultRoute = p.config.DefaultRoute
	// The fallback delay is rendered client-side: the failure page
	// meta-refreshes after the same interval. No reason to also hold the
	// response open.
	cfg.FallbackDelay = authflow.NoFallbackDelay

	poller := authflow.New(p.identity, p.store, nav, cfg)
	outcome := poller.Run(r.Context(), sess.ID)

	switch {
	case outcome.Cancelled:
		// Browser went away mid-poll; nothing to answer.
		return

	case outcome.Authenticated:
		p.bindAuthenticatedSession(r, sess.ID)
		http.Redirect(w, r, outcome.Route, http.StatusSeeOther)

	default:
		if p.authAlert != nil {
			p.authAlert(outcome.Message)
		}
		p.renderAuthErrorPage(w, outcome.Message, outcome.Route,
			int(authflow.DefaultFallbackDelay.Seconds()))
	}
}

// bindAuthenticatedSession attaches the token's subject to the portal
// session. Best effort: a failed bind leaves the session anonymous and the
// next page load restarts login.
func (p *Portal) bindAuthenticatedSession(r *http.Request, sessionID string) {
	subject, err := p.identity.Subject(r.Context(), sessionID)
	if err != nil {
		p.logger.Warn("failed to read token subject", "error", err)
		return
	}
	if err := p.store.BindPortalSession(r.Context(), sessionID, subject); err != nil {
		p.logger.Warn("failed to bind session to subject", "error", err)
		return
	}
	p.logger.Info("SSO login successful", "session_id", sessionID, "subject", subject)
}
