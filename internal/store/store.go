// ABOUTME: Store interface and data types for consoledeck persistence.
// ABOUTME: Defines Operator, PortalSession, SessionEvent and the Store interface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateOperator is returned when creating an operator whose username is taken.
var ErrDuplicateOperator = errors.New("operator already exists")

// Operator is a local portal account, used for bootstrap and non-SSO login.
type Operator struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PortalSession is one browser session with the portal, identified by the
// session cookie. OperatorID is empty while the session is anonymous
// (e.g. mid SSO round-trip).
type PortalSession struct {
	ID         string
	OperatorID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// SessionEvent is one audit record of a console controller transition.
type SessionEvent struct {
	ID           string
	Console      string
	FromState    string
	ToState      string
	ErrorKind    string
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
}

// Store is the persistence interface for consoledeck.
type Store interface {
	// Operators
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)
	CountOperators(ctx context.Context) (int, error)

	// Portal sessions
	CreatePortalSession(ctx context.Context, s *PortalSession) error
	GetPortalSession(ctx context.Context, id string) (*PortalSession, error)
	BindPortalSession(ctx context.Context, id, operatorID string) error
	DeletePortalSession(ctx context.Context, id string) error
	DeleteExpiredPortalSessions(ctx context.Context, now time.Time) (int, error)

	// Identity tokens delivered by the IdP back-channel, keyed by portal
	// session. One token per session; a new delivery replaces the old one.
	PutIdentityToken(ctx context.Context, sessionID, token string) error
	GetIdentityToken(ctx context.Context, sessionID string) (string, error)
	DeleteIdentityToken(ctx context.Context, sessionID string) error

	// Intended routes: the single pending-navigation slot per session.
	// TakeIntendedRoute reads and clears the slot in one transaction.
	SetIntendedRoute(ctx context.Context, sessionID, path string) error
	TakeIntendedRoute(ctx context.Context, sessionID string) (path string, ok bool, err error)

	// Session transition audit.
	AppendSessionEvent(ctx context.Context, ev *SessionEvent) error
	ListSessionEvents(ctx context.Context, console string, limit int) ([]*SessionEvent, error)

	Close() error
}
