// ABOUTME: Per-console session controller: LOADING/LOADED/ERROR transitions and retry count.
// ABOUTME: All operations are synchronous state replacements guarded by a mutex.

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Transition describes one observable state change, for audit hooks.
type Transition struct {
	Console    string
	From       LoadingState
	To         LoadingState
	Error      *SessionError
	RetryCount int
	At         time.Time
}

// TransitionHook receives every observable state change of a controller.
// Hooks must not call back into the controller.
type TransitionHook func(Transition)

// Controller tracks the loading lifecycle of a single embedded console.
// The console name, label, and URL are fixed at construction; only the
// loading state, error record, and retry count ever change.
//
// The portal's HTTP handlers may touch a controller from concurrent
// requests, so every operation takes the mutex; within one controller,
// operations apply in call order with no batching or coalescing.
type Controller struct {
	name  string
	label string
	url   string

	mu         sync.RWMutex
	state      LoadingState
	err        *SessionError
	retryCount int

	hook   TransitionHook
	logger *slog.Logger
}

// NewController creates a controller for one console, starting at IDLE.
func NewController(name, label, url string, hook TransitionHook) *Controller {
	return &Controller{
		name:   name,
		label:  label,
		url:    url,
		state:  StateIdle,
		hook:   hook,
		logger: slog.Default().With("component", "session", "console", name),
	}
}

// Name returns the console name the controller was built for.
func (c *Controller) Name() string { return c.name }

// URL returns the console URL the controller was built for. It never changes.
func (c *Controller) URL() string { return c.url }

// SetLoading transitions to LOADING and clears any existing error.
// Calling it while already LOADING is a no-op on observable state.
func (c *Controller) SetLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateLoading {
		return
	}
	from := c.state
	c.state = StateLoading
	c.err = nil
	c.logger.Debug("console loading", "from", from)
	c.emitLocked(from)
}

// SetLoaded transitions to LOADED and clears any error. Valid from any
// prior state; reaching it from ERROR represents a successful retry.
func (c *Controller) SetLoaded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	c.state = StateLoaded
	c.err = nil
	c.logger.Debug("console loaded", "from", from, "retries", c.retryCount)
	c.emitLocked(from)
}

// SetError transitions to ERROR, recording a new SessionError stamped with
// the current time. The retry count is untouched.
func (c *Controller) SetError(kind ErrorKind, message, details string) {
	if !ValidErrorKind(kind) {
		kind = ErrUnknown
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	c.state = StateError
	c.err = &SessionError{
		Kind:       kind,
		Message:    message,
		OccurredAt: time.Now(),
		Details:    details,
	}
	c.logger.Warn("console failed to load",
		"from", from,
		"kind", kind,
		"error", message,
		"retries", c.retryCount,
	)
	c.emitLocked(from)
}

// IncrementRetryCount bumps the retry counter by exactly one without
// touching the loading state. The caller invokes it once per user-initiated
// retry, before re-attempting the load.
func (c *Controller) IncrementRetryCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount++
}

// Reset returns the controller to IDLE with no error and a zero retry
// count. Used when the hosting view is reactivated. The URL is unchanged.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	c.state = StateIdle
	c.err = nil
	c.retryCount = 0
	c.emitLocked(from)
}

// IsLoading reports whether the controller is currently LOADING.
func (c *Controller) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateLoading
}

// IsLoaded reports whether the controller is currently LOADED.
func (c *Controller) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateLoaded
}

// HasError reports whether the controller currently holds an error record.
func (c *Controller) HasError() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err != nil
}

// RetryCount returns the current retry counter.
func (c *Controller) RetryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryCount
}

// Snapshot returns a value copy of the current state. The embedded error
// record, if any, is copied so callers can never observe a later mutation.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Console:    c.name,
		Label:      c.label,
		URL:        c.url,
		State:      c.state,
		RetryCount: c.retryCount,
	}
	if c.err != nil {
		errCopy := *c.err
		snap.Error = &errCopy
	}
	return snap
}

// emitLocked fires the transition hook while holding the mutex. The hook
// contract forbids re-entry, so holding the lock is safe and keeps the
// transition order seen by the hook identical to the order applied.
func (c *Controller) emitLocked(from LoadingState) {
	if c.hook == nil {
		return
	}
	t := Transition{
		Console:    c.name,
		From:       from,
		To:         c.state,
		RetryCount: c.retryCount,
		At:         time.Now(),
	}
	if c.err != nil {
		errCopy := *c.err
		t.Error = &errCopy
	}
	c.hook(t)
}
