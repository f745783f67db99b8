// Package stores provides Redis-backed, short-lived record stores for
// magic-link sign-in.
//
// # Design
//
// A magic link is persisted as a versioned, binary-encoded record in Redis
// with a TTL. Consume runs GET→validate→DEL in a single Lua script so a link
// can be redeemed at most once even under concurrent clicks. Only the
// SHA-256 hash of the link secret is stored.
//
// # Architecture boundaries
//
// This package owns persistence of transient link records. It does NOT
// generate tokens, enforce rate limits, or deliver email. Those belong to
// the engine in the root package.
//
// # What this package must NOT do
//
//   - Import linkauth or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
