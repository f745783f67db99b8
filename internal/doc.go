// Package internal contains helper utilities that are intentionally private to linkauth,
// mainly opaque token generation for sessions, refresh tokens and magic links.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: fixed-window Redis rate limiters for magic-link requests
//   - logging: slog logger construction shared by the binaries
//   - stores: single-use magic-link records in Redis
//
// # What this package must NOT do
//
//   - Export types that appear in the public linkauth API.
//   - Be imported by any package outside the linkauth module.
package internal
