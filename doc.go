// Package linkauth provides a passwordless magic-link authentication engine:
// single-use emailed links, Redis-backed sessions, short-lived JWT access
// tokens and rotating opaque refresh tokens.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// linkauth is the provider surface. It exposes [Engine], [Builder], [Config], and value
// types ([User], [Session], [UserAttributes]). Link records, session encoding, rate
// limiting and audit dispatch live under internal/ and are never exported. The HTTP API
// lives in authapi, and applications talk to it through the client package.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Set or read HTTP cookies. Cookie handling belongs to the bridge package.
//   - Import any sub-package that re-imports linkauth (no import cycles).
package linkauth
