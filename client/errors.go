package client

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/linkauth"
)

var (
	// ErrNoSession is returned by calls that need a signed-in session.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidAPIKey is returned when the provider rejects the public key.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrClosed is returned by Flush, SignOut and every provider call made
	// after Close.
	ErrClosed = errors.New("client closed")
)

var codeErrors = map[string]error{
	"invalid_request": linkauth.ErrInvalidRequest,
	"invalid_email":   linkauth.ErrInvalidEmail,
	"invalid_api_key": ErrInvalidAPIKey,
	"invalid_token":   linkauth.ErrTokenInvalid,
	"session_expired": linkauth.ErrSessionExpired,
	"rate_limited":    linkauth.ErrSignInRateLimited,
	"link_invalid":    linkauth.ErrLinkInvalid,
	"link_expired":    linkauth.ErrLinkExpired,
	"user_not_found":  linkauth.ErrUserNotFound,
	"unavailable":     linkauth.ErrProviderUnavailable,
}

// APIError is a provider error response. It unwraps to the matching linkauth
// sentinel, so errors.Is(err, linkauth.ErrTokenInvalid) works across HTTP.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linkauth api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}
	if e.Status >= 500 {
		return linkauth.ErrProviderUnavailable
	}
	return nil
}
