// ABOUTME: Store-backed identity client: reports whether a session's SSO completed.
// ABOUTME: A session is authenticated once a verifiable, unexpired token has landed.

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/consoledeck/internal/store"
)

// Client reports per-session authentication state. The IdP delivers tokens
// asynchronously via its back-channel; a session counts as authenticated
// once a token is present and verifies. The authflow poller treats this as
// the sole source of truth.
type Client struct {
	store    store.Store
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewClient creates an identity client over the given store and verifier.
func NewClient(st store.Store, verifier TokenVerifier) *Client {
	return &Client{
		store:    st,
		verifier: verifier,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Authenticated reports whether the session holds a token that verifies.
// An absent or unverifiable token means "not yet" rather than an error;
// only store failures are surfaced as errors.
func (c *Client) Authenticated(ctx context.Context, sessionID string) (bool, error) {
	token, err := c.store.GetIdentityToken(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading identity token: %w", err)
	}

	if _, err := c.verifier.Verify(token); err != nil {
		c.logger.Debug("delivered token does not verify", "session_id", sessionID, "error", err)
		return false, nil
	}
	return true, nil
}

// VerifyToken checks a raw token against the shared secret and returns its
// subject. Used to vet back-channel deliveries before they are stored.
func (c *Client) VerifyToken(token string) (string, error) {
	return c.verifier.Verify(token)
}

// Subject returns the verified subject of the session's token.
func (c *Client) Subject(ctx context.Context, sessionID string) (string, error) {
	token, err := c.store.GetIdentityToken(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("reading identity token: %w", err)
	}
	return c.verifier.Verify(token)
}

// Logout clears the session's identity token so a stale delivery cannot
// cause a redirect loop.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	return c.store.DeleteIdentityToken(ctx, sessionID)
}
