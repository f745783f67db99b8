package authapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/linkauth"
)

// Error codes returned in the "code" field.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidEmail   = "invalid_email"
	CodeInvalidAPIKey  = "invalid_api_key"
	CodeInvalidToken   = "invalid_token"
	CodeSessionExpired = "session_expired"
	CodeRateLimited    = "rate_limited"
	CodeLinkInvalid    = "link_invalid"
	CodeLinkExpired    = "link_expired"
	CodeUserNotFound   = "user_not_found"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal_error"
)

type errorMapping struct {
	err    error
	status int
	code   string
	msg    string
}

// Order matters: the first match wins.
var errorTable = []errorMapping{
	{linkauth.ErrInvalidEmail, http.StatusBadRequest, CodeInvalidEmail, "email address is not valid"},
	{linkauth.ErrInvalidRequest, http.StatusBadRequest, CodeInvalidRequest, "invalid request"},
	{linkauth.ErrSignInRateLimited, http.StatusTooManyRequests, CodeRateLimited, "too many requests"},
	{linkauth.ErrLinkExpired, http.StatusBadRequest, CodeLinkExpired, "sign-in link has expired"},
	{linkauth.ErrLinkInvalid, http.StatusBadRequest, CodeLinkInvalid, "sign-in link is invalid or already used"},
	{linkauth.ErrSessionExpired, http.StatusUnauthorized, CodeSessionExpired, "session expired"},
	{linkauth.ErrTokenInvalid, http.StatusUnauthorized, CodeInvalidToken, "invalid token"},
	{linkauth.ErrSessionNotFound, http.StatusUnauthorized, CodeInvalidToken, "invalid token"},
	{linkauth.ErrRefreshInvalid, http.StatusUnauthorized, CodeInvalidToken, "invalid refresh token"},
	{linkauth.ErrRefreshReuse, http.StatusUnauthorized, CodeInvalidToken, "invalid refresh token"},
	{linkauth.ErrUserNotFound, http.StatusUnprocessableEntity, CodeUserNotFound, "no account for this email"},
	{linkauth.ErrLinkDeliveryFailed, http.StatusServiceUnavailable, CodeUnavailable, "could not deliver sign-in link"},
	{linkauth.ErrProviderUnavailable, http.StatusServiceUnavailable, CodeUnavailable, "auth provider unavailable"},
}

func mapError(err error) (int, string, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.msg
		}
	}
	return http.StatusInternalServerError, CodeInternal, "internal error"
}
