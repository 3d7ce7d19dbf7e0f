// ABOUTME: Data types for console session tracking: states, error kinds, snapshots.
// ABOUTME: LoadingState and ErrorKind are closed string enums; SessionError is immutable.

package session

import "time"

// LoadingState describes where a console session is in its loading lifecycle.
type LoadingState string

// Loading states. Idle is the only initial state.
const (
	StateIdle    LoadingState = "IDLE"
	StateLoading LoadingState = "LOADING"
	StateLoaded  LoadingState = "LOADED"
	StateError   LoadingState = "ERROR"
)

// ErrorKind classifies why a console failed to load. It is carried by the
// error record, never by the loading state itself.
type ErrorKind string

// Error kinds.
const (
	ErrNetwork ErrorKind = "NETWORK_ERROR"
	ErrTimeout ErrorKind = "TIMEOUT_ERROR"
	ErrFrame   ErrorKind = "FRAME_ERROR"
	ErrUnknown ErrorKind = "UNKNOWN_ERROR"
)

// ValidErrorKind reports whether k is one of the closed set of error kinds.
func ValidErrorKind(k ErrorKind) bool {
	switch k {
	case ErrNetwork, ErrTimeout, ErrFrame, ErrUnknown:
		return true
	}
	return false
}

// SessionError records a single console load failure. A SessionError is
// never mutated after creation; the next failure supersedes it with a new
// value.
type SessionError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
	Details    string    `json:"details,omitempty"`
}

// Snapshot is a value copy of one controller's state, safe to hand to the
// HTTP layer. Error is non-nil if and only if State is StateError.
type Snapshot struct {
	Console    string        `json:"console"`
	Label      string        `json:"label"`
	URL        string        `json:"url"`
	State      LoadingState  `json:"state"`
	Error      *SessionError `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// IsLoading reports whether the snapshot is in the LOADING state.
func (s Snapshot) IsLoading() bool { return s.State == StateLoading }

// IsLoaded reports whether the snapshot is in the LOADED state.
func (s Snapshot) IsLoaded() bool { return s.State == StateLoaded }

// HasError reports whether the snapshot carries an error record.
func (s Snapshot) HasError() bool { return s.Error != nil }
