// Package jwt issues and verifies the short-lived access tokens handed to
// clients after a magic link is redeemed.
//
// Tokens carry the user id (sub), the server session id (sid) and the email.
// HS256 and Ed25519 are supported; the engine derives the HS256 key from its
// master secret.
//
// # What this package must NOT do
//
//   - Consult Redis or any session state. Revocation is the Engine's job.
package jwt
