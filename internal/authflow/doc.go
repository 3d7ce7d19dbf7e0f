// ABOUTME: Package authflow completes the SSO redirect round-trip.
// ABOUTME: Bounded polling of the identity client, then intended-route restore.

// Package authflow waits for an identity-provider round-trip to finish.
//
// After the IdP redirects back to the portal there is no push signal that
// authentication completed; the token lands asynchronously via the IdP
// back-channel. The Poller bridges that gap: it checks the identity client
// at a fixed interval with a hard attempt ceiling, and on success restores
// the navigation target the user originally intended. On timeout or a
// failed check it clears the pending login artifact (best effort), holds
// the failure message on screen for a fixed delay, then falls back to the
// default destination so the user is never left stranded.
//
// A Poller run is one-shot: it is not restarted automatically, and a fresh
// login attempt re-triggers the whole redirect flow from scratch.
package authflow
