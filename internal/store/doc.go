// ABOUTME: Package store defines the persistence interface and data types for consoledeck.
// ABOUTME: Backed by SQLite in production, with an in-memory implementation for tests.

// Package store persists everything consoledeck keeps outside memory:
// operator accounts, portal browser sessions, identity tokens delivered by
// the IdP back-channel, the single-slot intended route per session, and the
// append-only audit of console session transitions.
//
// Console loading state itself is deliberately not persisted; it lives only
// in the session controllers for the duration of a view activation.
package store
