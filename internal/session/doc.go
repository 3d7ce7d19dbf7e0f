// ABOUTME: Package session tracks the loading lifecycle of embedded consoles.
// ABOUTME: Provides the per-console Controller state machine and the Registry.

// Package session owns the loading lifecycle of each embedded console.
//
// Every console the portal frames gets exactly one Controller. The
// Controller is a small state machine over LoadingState (IDLE, LOADING,
// LOADED, ERROR) driven by frame load/error events the browser reports.
// It records failures as immutable SessionError values and counts
// user-initiated retries; it never performs I/O or retry scheduling itself.
//
// The Registry holds all controllers keyed by console name and fans
// transition audit records and repeated-failure alerts out to optional
// hooks.
package session
