// ABOUTME: Package auth verifies identity-provider tokens and tracks auth state.
// ABOUTME: Implements the identity client the authflow poller checks.

// Package auth owns token handling for consoledeck.
//
// The identity provider delivers an HS256-signed JWT for a portal session
// via its back-channel; this package verifies signatures and expiry and
// exposes the Client that reports, per browser session, whether the SSO
// round-trip has completed. It performs no credential handling beyond
// verification.
package auth
