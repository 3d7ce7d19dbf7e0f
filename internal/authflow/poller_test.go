// ABOUTME: Tests for the authentication completion poller at accelerated time.
// ABOUTME: Covers success, timeout, check errors, route fallback, and cancellation.

package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/consoledeck/internal/session"
)

// fakeIdentity reports authenticated after a configured number of checks.
type fakeIdentity struct {
	mu           sync.Mutex
	trueAfter    int // reports true on the Nth check; 0 means never
	checkErr     error
	errOnAttempt int // return checkErr on this attempt
	checks       int
	logouts      int
	logoutErr    error
}

func (f *fakeIdentity) Authenticated(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.errOnAttempt > 0 && f.checks == f.errOnAttempt {
		return false, f.checkErr
	}
	return f.trueAfter > 0 && f.checks >= f.trueAfter, nil
}

func (f *fakeIdentity) Logout(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.logoutErr
}

func (f *fakeIdentity) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

// fakeRoutes holds the single-slot intended route.
type fakeRoutes struct {
	mu    sync.Mutex
	route string
	takes int
	err   error
}

func (f *fakeRoutes) TakeIntendedRoute(ctx context.Context, sessionID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.takes++
	if f.err != nil {
		return "", false, f.err
	}
	r := f.route
	f.route = ""
	return r, r != "", nil
}

// fakeNav records navigations.
type fakeNav struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeNav) Navigate(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *fakeNav) navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func fastConfig() Config {
	return Config{
		PollInterval:  time.Millisecond,
		MaxAttempts:   20,
		FallbackDelay: time.Millisecond,
		DefaultRoute:  "/home",
	}
}

func TestPollerSuccessConsumesIntendedRoute(t *testing.T) {
	identity := &fakeIdentity{trueAfter: 5}
	routes := &fakeRoutes{route: "/settings"}
	nav := &fakeNav{}

	out := New(identity, routes, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.True(t, out.Authenticated)
	assert.Equal(t, "/settings", out.Route)
	assert.Empty(t, out.Message)

	// Stopped on the 5th check, consumed the slot once, navigated once.
	assert.Equal(t, 5, identity.checkCount())
	assert.Equal(t, 1, routes.takes)
	assert.Equal(t, []string{"/settings"}, nav.navigations())
	assert.Equal(t, "", routes.route, "slot must be cleared")
}

func TestPollerSuccessWithoutStoredRouteUsesDefault(t *testing.T) {
	identity := &fakeIdentity{trueAfter: 1}
	nav := &fakeNav{}

	out := New(identity, &fakeRoutes{}, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.True(t, out.Authenticated)
	assert.Equal(t, "/home", out.Route)
	assert.Equal(t, []string{"/home"}, nav.navigations())
}

func TestPollerRouteStoreErrorFallsBackToDefault(t *testing.T) {
	identity := &fakeIdentity{trueAfter: 1}
	routes := &fakeRoutes{err: errors.New("db locked")}
	nav := &fakeNav{}

	out := New(identity, routes, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.True(t, out.Authenticated)
	assert.Equal(t, "/home", out.Route)
	assert.Equal(t, []string{"/home"}, nav.navigations())
}

func TestPollerTimeoutAfterCeiling(t *testing.T) {
	identity := &fakeIdentity{} // never authenticates
	nav := &fakeNav{}

	out := New(identity, &fakeRoutes{route: "/settings"}, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.False(t, out.Authenticated)
	assert.Equal(t, session.ErrTimeout, out.Kind)
	assert.Contains(t, out.Message, "timed out")
	assert.Equal(t, "/home", out.Route)

	assert.Equal(t, 20, identity.checkCount(), "exactly the ceiling, then stop")
	assert.Equal(t, 1, identity.logouts, "pending artifact cleared on failure")
	assert.Equal(t, []string{"/home"}, nav.navigations(), "exactly one fallback navigation")
}

func TestPollerCheckErrorFailsWithClientMessage(t *testing.T) {
	identity := &fakeIdentity{
		checkErr:     errors.New("identity provider unreachable"),
		errOnAttempt: 3,
	}
	nav := &fakeNav{}

	out := New(identity, &fakeRoutes{}, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.False(t, out.Authenticated)
	assert.Equal(t, session.ErrUnknown, out.Kind)
	assert.Equal(t, "identity provider unreachable", out.Message)
	assert.Equal(t, 3, identity.checkCount(), "no further checks after the failure")
	assert.Equal(t, []string{"/home"}, nav.navigations())
}

func TestPollerLogoutFailureIsSwallowed(t *testing.T) {
	identity := &fakeIdentity{logoutErr: errors.New("nothing to clear")}
	nav := &fakeNav{}

	out := New(identity, &fakeRoutes{}, nav, fastConfig()).Run(context.Background(), "sess-1")

	assert.Equal(t, session.ErrTimeout, out.Kind)
	assert.Equal(t, []string{"/home"}, nav.navigations(), "fallback still happens")
}

func TestPollerCancellationIssuesNoNavigation(t *testing.T) {
	identity := &fakeIdentity{}
	nav := &fakeNav{}
	cfg := fastConfig()
	cfg.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- New(identity, &fakeRoutes{}, nav, cfg).Run(ctx, "sess-1")
	}()

	cancel()
	out := <-done

	assert.True(t, out.Cancelled)
	assert.Empty(t, nav.navigations(), "teardown must discard pending navigation")
}

func TestPollerFallbackDelayPrecedesFallbackNavigation(t *testing.T) {
	identity := &fakeIdentity{}
	nav := &fakeNav{}
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FallbackDelay = 40 * time.Millisecond

	start := time.Now()
	out := New(identity, &fakeRoutes{}, nav, cfg).Run(context.Background(), "sess-1")
	elapsed := time.Since(start)

	require.False(t, out.Authenticated)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Equal(t, []string{"/home"}, nav.navigations())
}

func TestPollerZeroConfigUsesProductionConstants(t *testing.T) {
	p := New(&fakeIdentity{}, &fakeRoutes{}, &fakeNav{}, Config{})

	assert.Equal(t, DefaultPollInterval, p.cfg.PollInterval)
	assert.Equal(t, DefaultMaxAttempts, p.cfg.MaxAttempts)
	assert.Equal(t, DefaultFallbackDelay, p.cfg.FallbackDelay)
	assert.Equal(t, DefaultRoute, p.cfg.DefaultRoute)
}

func TestPollerNoFallbackDelayDisablesWait(t *testing.T) {
	p := New(&fakeIdentity{}, &fakeRoutes{}, &fakeNav{}, Config{FallbackDelay: NoFallbackDelay})

	assert.Equal(t, time.Duration(0), p.cfg.FallbackDelay)
}
