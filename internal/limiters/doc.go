// Package limiters provides fixed-window Redis rate limiters for the
// magic-link flow.
//
// # Limiters
//
//   - [SignInLimiter]: per-email + per-IP throttle for link requests, per-IP
//     throttle for link redemption.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Policy thresholds
// come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import linkauth or any sibling internal package.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
