// ABOUTME: One-shot bounded poller that waits for authentication to complete.
// ABOUTME: Polls the identity client, then navigates to the intended route or /home.

package authflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/consoledeck/internal/session"
)

// Polling constants. 20 checks at 500ms bound the wait to 10 seconds; the
// fallback redirect is delayed so the user can read the failure message
// before the page navigates away.
const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultMaxAttempts   = 20
	DefaultFallbackDelay = 3 * time.Second
	DefaultRoute         = "/home"
)

// NoFallbackDelay disables the pre-navigation delay on the failure path.
// A zero FallbackDelay means "use the default"; callers that render the
// delay elsewhere pass this sentinel instead.
const NoFallbackDelay = time.Duration(-1)

// IdentityClient reports whether a browser session has completed
// authentication. It is the sole source of truth; the poller performs no
// credential handling itself.
type IdentityClient interface {
	// Authenticated reports whether the session holds a valid credential.
	Authenticated(ctx context.Context, sessionID string) (bool, error)
	// Logout clears any pending login artifact for the session. Used on
	// the failure path to prevent a redirect loop.
	Logout(ctx context.Context, sessionID string) error
}

// RouteStore is the single-slot pending-navigation store. TakeIntendedRoute
// is get-and-clear; the poller is its only consumer.
type RouteStore interface {
	TakeIntendedRoute(ctx context.Context, sessionID string) (path string, ok bool, err error)
}

// Navigator issues the final redirect. Exactly one Navigate call is made
// per completed poller run.
type Navigator interface {
	Navigate(path string)
}

// Config carries the poller's timing knobs. The production values are the
// package constants; tests substitute accelerated ones.
type Config struct {
	PollInterval  time.Duration
	MaxAttempts   int
	FallbackDelay time.Duration
	DefaultRoute  string
}

// DefaultConfig returns the production polling configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		MaxAttempts:   DefaultMaxAttempts,
		FallbackDelay: DefaultFallbackDelay,
		DefaultRoute:  DefaultRoute,
	}
}

// Outcome is the terminal result of one poller run.
type Outcome struct {
	// Authenticated is true when the identity client confirmed the login.
	Authenticated bool
	// Route is the destination that was navigated to.
	Route string
	// Message is the human-readable failure text, empty on success.
	Message string
	// Kind classifies the failure using the console error taxonomy.
	Kind session.ErrorKind
	// Cancelled is true when the hosting view was torn down mid-run; no
	// navigation was issued.
	Cancelled bool
}

// Poller waits for an identity round-trip to complete. Checks are strictly
// sequential; there is never an overlapping in-flight check.
type Poller struct {
	identity IdentityClient
	routes   RouteStore
	nav      Navigator
	cfg      Config
	logger   *slog.Logger
}

// New creates a poller. Zero config fields fall back to the production
// constants.
func New(identity IdentityClient, routes RouteStore, nav Navigator, cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.FallbackDelay < 0 {
		cfg.FallbackDelay = 0
	} else if cfg.FallbackDelay == 0 {
		cfg.FallbackDelay = DefaultFallbackDelay
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = DefaultRoute
	}
	return &Poller{
		identity: identity,
		routes:   routes,
		nav:      nav,
		cfg:      cfg,
		logger:   slog.Default().With("component", "authflow"),
	}
}

// Run polls until the session authenticates, the attempt ceiling is hit, or
// ctx is cancelled. It issues exactly one navigation on every terminal path
// except cancellation.
func (p *Poller) Run(ctx context.Context, sessionID string) Outcome {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if !p.sleep(ctx, p.cfg.PollInterval) {
			return Outcome{Cancelled: true}
		}

		ok, err := p.identity.Authenticated(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Cancelled: true}
			}
			p.logger.Warn("authentication check failed",
				"attempt", attempt,
				"error", err,
			)
			return p.fail(ctx, sessionID, session.ErrUnknown, err.Error())
		}
		if ok {
			route := p.takeRoute(ctx, sessionID)
			p.logger.Info("authentication completed",
				"attempt", attempt,
				"route", route,
			)
			p.nav.Navigate(route)
			return Outcome{Authenticated: true, Route: route}
		}
	}

	p.logger.Warn("authentication timed out",
		"attempts", p.cfg.MaxAttempts,
		"waited", time.Duration(p.cfg.MaxAttempts)*p.cfg.PollInterval,
	)
	return p.fail(ctx, sessionID, session.ErrTimeout,
		"Authentication timed out. Redirecting to the home page.")
}

// takeRoute consumes the intended route, falling back to the default when
// the slot is empty or the store fails.
func (p *Poller) takeRoute(ctx context.Context, sessionID string) string {
	path, ok, err := p.routes.TakeIntendedRoute(ctx, sessionID)
	if err != nil {
		p.logger.Warn("intended route lookup failed", "error", err)
		return p.cfg.DefaultRoute
	}
	if !ok || path == "" {
		return p.cfg.DefaultRoute
	}
	return path
}

// fail is the shared failure path: clear the pending login artifact so a
// stale redirect cannot loop, hold for the fallback delay, then navigate to
// the default destination.
func (p *Poller) fail(ctx context.Context, sessionID string, kind session.ErrorKind, message string) Outcome {
	if err := p.identity.Logout(ctx, sessionID); err != nil {
		// Best effort only; a failed clear must not mask the real failure.
		p.logger.Debug("logout during auth failure ignored", "error", err)
	}

	if !p.sleep(ctx, p.cfg.FallbackDelay) {
		return Outcome{Cancelled: true, Message: message, Kind: kind}
	}

	p.nav.Navigate(p.cfg.DefaultRoute)
	return Outcome{Route: p.cfg.DefaultRoute, Message: message, Kind: kind}
}

// sleep waits for d, returning false if ctx was cancelled first. The
// pending timer is discarded on cancellation so a torn-down view can never
// trigger a stray navigation.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
