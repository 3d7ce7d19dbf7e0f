// ABOUTME: Registry of per-console session controllers keyed by console name.
// ABOUTME: Fans transitions out to an audit hook and raises repeated-failure alerts.

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrConsoleAlreadyRegistered indicates a controller with the same console name exists.
var ErrConsoleAlreadyRegistered = errors.New("console already registered")

// ErrConsoleNotFound indicates the named console has no controller.
var ErrConsoleNotFound = errors.New("console not found")

// AlertFunc is called when a console accumulates repeated consecutive load
// failures. It runs on the caller's goroutine and must not block.
type AlertFunc func(console string, failures int, last *SessionError)

// Registry holds one controller per embedded console. Controllers are
// registered once at startup and are fully independent of each other; the
// registry imposes no ordering across consoles.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	failStreaks map[string]int

	audit     TransitionHook
	alert     AlertFunc
	threshold int
	logger    *slog.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Audit receives every controller transition, if set.
	Audit TransitionHook
	// Alert is invoked when a console reaches AlertThreshold consecutive
	// failures, once per streak.
	Alert AlertFunc
	// AlertThreshold is the consecutive-failure count that triggers Alert.
	// Zero disables alerting.
	AlertThreshold int
}

// NewRegistry creates an empty controller registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		failStreaks: make(map[string]int),
		audit:       opts.Audit,
		alert:       opts.Alert,
		threshold:   opts.AlertThreshold,
		logger:      slog.Default().With("component", "session"),
	}
}

// Register creates and adds a controller for the named console.
// Returns ErrConsoleAlreadyRegistered if the name is taken.
func (r *Registry) Register(name, label, url string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controllers[name]; exists {
		return nil, ErrConsoleAlreadyRegistered
	}

	c := NewController(name, label, url, r.observe)
	r.controllers[name] = c
	r.logger.Info("console registered", "console", name, "url", url)
	return c, nil
}

// Get returns the controller for the named console.
func (r *Registry) Get(name string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[name]
	return c, ok
}

// List returns snapshots of every registered console, sorted by name.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(controllers))
	for _, c := range controllers {
		snaps = append(snaps, c.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Console < snaps[j].Console })
	return snaps
}

// ResetAll returns every controller to IDLE. Used on portal logout so a
// fresh login starts each console from scratch.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	for _, c := range controllers {
		c.Reset()
	}
}

// observe is the shared transition hook installed on every controller. It
// forwards to the audit hook and tracks consecutive-failure streaks.
func (r *Registry) observe(t Transition) {
	if r.audit != nil {
		r.audit(t)
	}

	r.mu.Lock()
	var fire bool
	var streak int
	switch t.To {
	case StateError:
		r.failStreaks[t.Console]++
		streak = r.failStreaks[t.Console]
		fire = r.threshold > 0 && streak == r.threshold
	case StateLoaded, StateIdle:
		delete(r.failStreaks, t.Console)
	}
	r.mu.Unlock()

	if fire && r.alert != nil {
		r.alert(t.Console, streak, t.Error)
	}
}
