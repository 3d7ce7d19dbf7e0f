// ABOUTME: Package notify sends operational alerts to a Matrix room.
// ABOUTME: Used for console repeated-failure and SSO timeout alerts.

// Package notify pushes portal alerts to a Matrix room: a console that
// keeps failing to load, or an SSO round-trip that timed out. It is
// optional, configured from its own TOML file, and every send is best
// effort; a failed notification never affects portal behavior.
package notify
