// Package session provides Redis-backed session persistence and compact binary session
// encoding for the magic-link provider.
//
// # Binary encoding
//
// Sessions are stored in Redis in a small versioned binary format. Fixed-width
// fields come first so the refresh rotation script can read them without a
// full decode.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// interpret JWT tokens or enforce authentication policy; those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import linkauth or jwt (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
