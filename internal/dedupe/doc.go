// ABOUTME: Package dedupe suppresses duplicate frame event reports.
// ABOUTME: TTL-based, size-limited cache of recently seen event keys.

// Package dedupe provides a small TTL cache the portal uses to drop
// duplicate frame load/error reports. Browsers can fire the same native
// signal more than once for a single mount (and users double-click retry
// buttons); the cache keeps the controllers from seeing those repeats.
package dedupe
