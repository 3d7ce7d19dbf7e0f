// ABOUTME: In-memory Store implementation for tests.
// ABOUTME: Mirrors SQLite semantics including take-once intended routes.

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu             sync.Mutex
	operators      map[string]*Operator // by username
	sessions       map[string]*PortalSession
	tokens         map[string]string
	intendedRoutes map[string]string
	events         []*SessionEvent

	// ForcedErr, when set, is returned by every operation. Lets tests
	// exercise failure paths.
	ForcedErr error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		operators:      make(map[string]*Operator),
		sessions:       make(map[string]*PortalSession),
		tokens:         make(map[string]string),
		intendedRoutes: make(map[string]string),
	}
}

// CreateOperator inserts a new operator account.
func (m *MockStore) CreateOperator(_ context.Context, op *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	if _, exists := m.operators[op.Username]; exists {
		return ErrDuplicateOperator
	}
	cp := *op
	m.operators[op.Username] = &cp
	return nil
}

// GetOperatorByUsername returns the operator with the given username.
func (m *MockStore) GetOperatorByUsername(_ context.Context, username string) (*Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	op, ok := m.operators[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	return &cp, nil
}

// CountOperators returns the number of operator accounts.
func (m *MockStore) CountOperators(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return 0, m.ForcedErr
	}
	return len(m.operators), nil
}

// CreatePortalSession inserts a new portal session.
func (m *MockStore) CreatePortalSession(_ context.Context, ps *PortalSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	cp := *ps
	m.sessions[ps.ID] = &cp
	return nil
}

// GetPortalSession returns the portal session with the given id.
func (m *MockStore) GetPortalSession(_ context.Context, id string) (*PortalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	ps, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ps
	return &cp, nil
}

// BindPortalSession attaches an operator to an existing session.
func (m *MockStore) BindPortalSession(_ context.Context, id, operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	ps, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	ps.OperatorID = operatorID
	return nil
}

// DeletePortalSession removes a session and everything keyed to it.
func (m *MockStore) DeletePortalSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	delete(m.sessions, id)
	delete(m.tokens, id)
	delete(m.intendedRoutes, id)
	return nil
}

// DeleteExpiredPortalSessions removes sessions past their expiry.
func (m *MockStore) DeleteExpiredPortalSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return 0, m.ForcedErr
	}
	n := 0
	for id, ps := range m.sessions {
		if ps.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// PutIdentityToken stores the token delivered for a session.
func (m *MockStore) PutIdentityToken(_ context.Context, sessionID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	m.tokens[sessionID] = token
	return nil
}

// GetIdentityToken returns the token delivered for a session, if any.
func (m *MockStore) GetIdentityToken(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return "", m.ForcedErr
	}
	token, ok := m.tokens[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

// DeleteIdentityToken removes the token for a session.
func (m *MockStore) DeleteIdentityToken(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	delete(m.tokens, sessionID)
	return nil
}

// SetIntendedRoute stores the pending navigation target for a session.
func (m *MockStore) SetIntendedRoute(_ context.Context, sessionID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	m.intendedRoutes[sessionID] = path
	return nil
}

// TakeIntendedRoute reads and clears the pending navigation slot.
func (m *MockStore) TakeIntendedRoute(_ context.Context, sessionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return "", false, m.ForcedErr
	}
	path, ok := m.intendedRoutes[sessionID]
	if !ok {
		return "", false, nil
	}
	delete(m.intendedRoutes, sessionID)
	return path, true, nil
}

// AppendSessionEvent writes one console transition audit record.
func (m *MockStore) AppendSessionEvent(_ context.Context, ev *SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return m.ForcedErr
	}
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

// ListSessionEvents returns the most recent transition records, newest first.
func (m *MockStore) ListSessionEvents(_ context.Context, console string, limit int) ([]*SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var events []*SessionEvent
	for _, ev := range m.events {
		if console == "" || ev.Console == console {
			cp := *ev
			events = append(events, &cp)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Close is a no-op for the in-memory store.
func (m *MockStore) Close() error { return nil }
