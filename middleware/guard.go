package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/bridge"
)

// Resolver is the cookie read path.
type Resolver interface {
	Resolve(r *http.Request) bridge.Resolution
}

type userContextKey struct{}

// UserFromContext returns the user placed by RequireSession.
func UserFromContext(ctx context.Context) (*linkauth.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*linkauth.User)
	return u, ok && u != nil
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *linkauth.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// RequireSession redirects requests without a verified user to signInPath
// with 302 Found and no body.
func RequireSession(resolver Resolver, signInPath string) func(http.Handler) http.Handler {
	if signInPath == "" {
		signInPath = "/sign-in"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				redirect(w, signInPath)
				return
			}

			res := resolver.Resolve(r)
			if !res.Authenticated() {
				redirect(w, signInPath)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), res.User)))
		})
	}
}

// redirect writes the Location header only. http.Redirect would add an HTML
// body for GET requests.
func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}
