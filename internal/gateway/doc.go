// ABOUTME: Package doc for the gateway orchestrator.
// ABOUTME: Wires config, store, consoles, portal, and serving together.

// Package gateway assembles and runs the console deck server: it opens the
// store, registers the configured consoles, mounts the portal, and serves
// HTTP over a TCP or Tailscale listener until shutdown.
package gateway
