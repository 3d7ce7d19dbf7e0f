// ABOUTME: Package portal serves the consoledeck web UI and console event API.
// ABOUTME: Cookie sessions, local + SSO login, console pages, and frame event intake.

// Package portal is the HTTP surface of consoledeck.
//
// It renders the portal pages (home, per-console frames, login, help) from
// embedded templates, manages browser sessions with cookies, and exposes
// the small JSON API the frame shell calls to report native load/error
// signals and user retries. Frame events drive the session controllers;
// the portal itself holds no console state.
//
// Authentication comes in two flavors: local operator login (bcrypt) and
// the SSO redirect flow, whose completion is awaited by the authflow
// poller inside the /sso/callback handler.
package portal
