// ABOUTME: Gateway orchestrator that assembles store, consoles, and portal
// ABOUTME: Manages the HTTP server, audit trail, and housekeeping lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/2389/consoledeck/internal/auth"
	"github.com/2389/consoledeck/internal/config"
	"github.com/2389/consoledeck/internal/notify"
	"github.com/2389/consoledeck/internal/portal"
	"github.com/2389/consoledeck/internal/session"
	"github.com/2389/consoledeck/internal/store"
)

const (
	// auditQueueSize bounds pending transition records. Overflow is dropped
	// rather than blocking a controller transition on a store write.
	auditQueueSize = 256

	// housekeepingInterval is how often expired portal sessions are swept.
	housekeepingInterval = time.Hour
)

// Gateway orchestrates the console deck server components.
// It manages the store, console registry, portal, and HTTP server lifecycle.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *session.Registry
	portal      *portal.Portal
	notifier    *notify.Notifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// auditCh carries controller transitions to the audit writer goroutine.
	auditCh   chan session.Transition
	auditDone chan struct{}
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DECK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initNotifier creates the Matrix notifier when one is configured.
func initNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Notifier, error) {
	if cfg.Notify.MatrixConfig == "" {
		return nil, nil
	}

	matrixCfg, err := notify.LoadConfig(cfg.Notify.MatrixConfig)
	if err != nil {
		return nil, fmt.Errorf("loading matrix config: %w", err)
	}
	notifier, err := notify.New(matrixCfg)
	if err != nil {
		return nil, fmt.Errorf("creating notifier: %w", err)
	}
	logger.Info("matrix notifier enabled", "homeserver", matrixCfg.Matrix.Homeserver)
	return notifier, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		notifier:  notifier,
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
		auditCh:   make(chan session.Transition, auditQueueSize),
		auditDone: make(chan struct{}),
	}
	go gw.auditLoop()

	var alert session.AlertFunc
	if notifier != nil {
		alert = notifier.ConsoleFailing
	}
	gw.registry = session.NewRegistry(session.RegistryOptions{
		Audit:          gw.recordTransition,
		Alert:          alert,
		AlertThreshold: cfg.Alerts.FailureThreshold,
	})
	for _, c := range cfg.Consoles {
		if _, err := gw.registry.Register(c.Name, c.Label, c.URL); err != nil {
			// Mirror Shutdown's ordering for the pieces started so far.
			close(gw.auditDone)
			if notifier != nil {
				notifier.Close()
			}
			_ = s.Close()
			return nil, fmt.Errorf("registering console %q: %w", c.Name, err)
		}
	}

	identity := auth.NewClient(s, auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)))
	gw.portal = portal.New(s, gw.registry, identity, portal.Config{
		Consoles:        cfg.Consoles,
		IdPLoginURL:     cfg.Auth.IdPLoginURL,
		DefaultRoute:    cfg.Auth.DefaultRoute,
		SessionDuration: cfg.Auth.SessionDuration,
	})
	if notifier != nil {
		gw.portal.SetAuthAlert(notifier.AuthTimeout)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.portal.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// recordTransition queues one controller transition for the audit trail.
// Runs on the transitioning goroutine, so it never blocks.
func (g *Gateway) recordTransition(t session.Transition) {
	select {
	case g.auditCh <- t:
	default:
		g.logger.Warn("audit queue full, dropping transition",
			"console", t.Console, "to", t.To)
	}
}

// auditLoop drains queued transitions into the session event table.
func (g *Gateway) auditLoop() {
	for {
		select {
		case <-g.auditDone:
			return
		case t := <-g.auditCh:
			ev := &store.SessionEvent{
				ID:         uuid.NewString(),
				Console:    t.Console,
				FromState:  string(t.From),
				ToState:    string(t.To),
				RetryCount: t.RetryCount,
				CreatedAt:  t.At,
			}
			if t.Error != nil {
				ev.ErrorKind = string(t.Error.Kind)
				ev.ErrorMessage = t.Error.Message
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.store.AppendSessionEvent(ctx, ev); err != nil {
				g.logger.Warn("failed to record session event",
					"console", t.Console, "error", err)
			}
			cancel()
		}
	}
}

// housekeeping periodically removes expired portal sessions.
func (g *Gateway) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.store.DeleteExpiredPortalSessions(ctx, time.Now())
			if err != nil {
				g.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Info("expired portal sessions removed", "count", n)
			}
		}
	}
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the serving listener based on configuration
// (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	go g.housekeeping(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	close(g.auditDone)
	g.portal.Close()
	if g.notifier != nil {
		g.notifier.Close()
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.CountOperators(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d consoles)", len(g.registry.List()))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("consoledeck-%d", time.Now().UnixNano()%1000000)
}
