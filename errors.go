package linkauth

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidRequest is returned for malformed input that is not an email.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidEmail is returned when a sign-in email does not parse.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrSignInRateLimited is returned when link requests or redemptions exceed their window.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrLinkInvalid is returned for unknown, already used, or tampered magic links.
	ErrLinkInvalid = errors.New("magic link invalid")
	// ErrLinkExpired is returned for a magic link past its TTL.
	ErrLinkExpired = errors.New("magic link expired")
	// ErrLinkDeliveryFailed is returned when the mailer rejects a link.
	ErrLinkDeliveryFailed = errors.New("magic link delivery failed")
	// ErrTokenInvalid is returned for access tokens that fail signature or claim checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionExpired is returned when an access token or its session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound is returned when a well-formed token refers to a revoked session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshInvalid is returned for malformed or unknown refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when a rotated-out refresh token is presented; the session is revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrUserNotFound is returned by directories for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by directories when an email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrProviderUnavailable wraps Redis and directory failures.
	ErrProviderUnavailable = errors.New("auth provider unavailable")
)

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
