// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Creates the schema automatically and runs in WAL mode.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist; parent directories are created
// if needed. Pass ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store opened", "path", path)
	return s, nil
}

// createSchema creates all tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portal_sessions (
		id TEXT PRIMARY KEY,
		operator_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS identity_tokens (
		session_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		delivered_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intended_routes (
		session_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_events (
		id TEXT PRIMARY KEY,
		console TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_console
		ON session_events(console, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOperator inserts a new operator account.
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *Operator) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		op.ID, op.Username, op.PasswordHash, op.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateOperator
		}
		return fmt.Errorf("creating operator: %w", err)
	}
	return nil
}

// GetOperatorByUsername returns the operator with the given username.
func (s *SQLiteStore) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	op := &Operator{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM operators WHERE username = ?`,
		username,
	).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting operator: %w", err)
	}
	return op, nil
}

// CountOperators returns the number of operator accounts.
func (s *SQLiteStore) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return n, nil
}

// CreatePortalSession inserts a new portal session.
func (s *SQLiteStore) CreatePortalSession(ctx context.Context, ps *PortalSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_sessions (id, operator_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		ps.ID, ps.OperatorID, ps.CreatedAt, ps.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating portal session: %w", err)
	}
	return nil
}

// GetPortalSession returns the portal session with the given id.
func (s *SQLiteStore) GetPortalSession(ctx context.Context, id string) (*PortalSession, error) {
	ps := &PortalSession{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operator_id, created_at, expires_at FROM portal_sessions WHERE id = ?`,
		id,
	).Scan(&ps.ID, &ps.OperatorID, &ps.CreatedAt, &ps.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting portal session: %w", err)
	}
	return ps, nil
}

// BindPortalSession attaches an operator to an existing session.
func (s *SQLiteStore) BindPortalSession(ctx context.Context, id, operatorID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_sessions SET operator_id = ? WHERE id = ?`,
		operatorID, id,
	)
	if err != nil {
		return fmt.Errorf("binding portal session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePortalSession removes a session and everything keyed to it.
func (s *SQLiteStore) DeletePortalSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM portal_sessions WHERE id = ?`,
		`DELETE FROM identity_tokens WHERE session_id = ?`,
		`DELETE FROM intended_routes WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("deleting portal session: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteExpiredPortalSessions removes sessions past their expiry.
func (s *SQLiteStore) DeleteExpiredPortalSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM portal_sessions WHERE expires_at < ?`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PutIdentityToken stores the token the IdP delivered for a session,
// replacing any previous delivery.
func (s *SQLiteStore) PutIdentityToken(ctx context.Context, sessionID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_tokens (session_id, token, delivered_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET token = excluded.token, delivered_at = excluded.delivered_at`,
		sessionID, token, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("storing identity token: %w", err)
	}
	return nil
}

// GetIdentityToken returns the token delivered for a session, if any.
func (s *SQLiteStore) GetIdentityToken(ctx context.Context, sessionID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM identity_tokens WHERE session_id = ?`, sessionID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting identity token: %w", err)
	}
	return token, nil
}

// DeleteIdentityToken removes the token for a session.
func (s *SQLiteStore) DeleteIdentityToken(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identity_tokens WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return fmt.Errorf("deleting identity token: %w", err)
	}
	return nil
}

// SetIntendedRoute stores the pending navigation target for a session,
// replacing any previous value. One slot per session.
func (s *SQLiteStore) SetIntendedRoute(ctx context.Context, sessionID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intended_routes (session_id, path, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET path = excluded.path, created_at = excluded.created_at`,
		sessionID, path, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("setting intended route: %w", err)
	}
	return nil
}

// TakeIntendedRoute reads and clears the pending navigation slot in one
// transaction, so the single consumer sees each stored value exactly once.
func (s *SQLiteStore) TakeIntendedRoute(ctx context.Context, sessionID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var path string
	err = tx.QueryRowContext(ctx,
		`SELECT path FROM intended_routes WHERE session_id = ?`, sessionID,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading intended route: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM intended_routes WHERE session_id = ?`, sessionID,
	); err != nil {
		return "", false, fmt.Errorf("clearing intended route: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing: %w", err)
	}
	return path, true, nil
}

// AppendSessionEvent writes one console transition audit record.
func (s *SQLiteStore) AppendSessionEvent(ctx context.Context, ev *SessionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (id, console, from_state, to_state, error_kind, error_message, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Console, ev.FromState, ev.ToState, ev.ErrorKind, ev.ErrorMessage, ev.RetryCount, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending session event: %w", err)
	}
	return nil
}

// ListSessionEvents returns the most recent transition records for a
// console, newest first. An empty console returns events for all consoles.
func (s *SQLiteStore) ListSessionEvents(ctx context.Context, console string, limit int) ([]*SessionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, console, from_state, to_state, error_kind, error_message, retry_count, created_at
		FROM session_events`
	args := []any{}
	if console != "" {
		query += ` WHERE console = ?`
		args = append(args, console)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing session events: %w", err)
	}
	defer rows.Close()

	var events []*SessionEvent
	for rows.Next() {
		ev := &SessionEvent{}
		if err := rows.Scan(&ev.ID, &ev.Console, &ev.FromState, &ev.ToState,
			&ev.ErrorKind, &ev.ErrorMessage, &ev.RetryCount, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
