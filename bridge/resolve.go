package bridge

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/linkauth"
)

// Reason says why a request did or did not resolve to a user.
type Reason int

const (
	// ReasonAbsent: no cookie, so never authenticated in this browser or signed out.
	ReasonAbsent Reason = iota
	// ReasonAuthenticated: the cookie verified.
	ReasonAuthenticated
	// ReasonInvalid: the token is forged, malformed, or its session was revoked.
	ReasonInvalid
	// ReasonExpired: the token or its session expired.
	ReasonExpired
	// ReasonUnavailable: the verifier could not be reached.
	ReasonUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonAbsent:
		return "absent"
	case ReasonAuthenticated:
		return "authenticated"
	case ReasonInvalid:
		return "invalid"
	case ReasonExpired:
		return "expired"
	case ReasonUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Resolution is the read-path result. User is non-nil only for
// ReasonAuthenticated.
type Resolution struct {
	Reason Reason
	User   *linkauth.User
}

// Authenticated reports whether a user was resolved.
func (res Resolution) Authenticated() bool {
	return res.Reason == ReasonAuthenticated && res.User != nil
}

// Resolve verifies the session cookie on r.
func (b *Bridge) Resolve(r *http.Request) Resolution {
	token := b.Token(r)
	if token == "" {
		return Resolution{Reason: ReasonAbsent}
	}

	user, err := b.verifier.GetUser(r.Context(), token)
	if err == nil && user != nil {
		return Resolution{Reason: ReasonAuthenticated, User: user}
	}

	reason := classify(err)
	if reason == ReasonUnavailable {
		b.log.WarnContext(r.Context(), "bridge.verify_unavailable", "err", err)
	} else {
		b.log.DebugContext(r.Context(), "bridge.cookie_rejected", "reason", reason.String())
	}
	return Resolution{Reason: reason}
}

// User collapses Resolve to the user or nil.
func (b *Bridge) User(r *http.Request) *linkauth.User {
	return b.Resolve(r).User
}

func classify(err error) Reason {
	switch {
	case err == nil:
		// A nil user without an error is treated as a revoked token.
		return ReasonInvalid
	case errors.Is(err, linkauth.ErrSessionExpired):
		return ReasonExpired
	case errors.Is(err, linkauth.ErrTokenInvalid),
		errors.Is(err, linkauth.ErrSessionNotFound),
		errors.Is(err, linkauth.ErrUserNotFound):
		return ReasonInvalid
	default:
		return ReasonUnavailable
	}
}
