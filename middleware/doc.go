// Package middleware guards server-rendered routes with the session cookie.
//
// [RequireSession] runs the cookie read path before the wrapped handler. A
// request without a verified user is redirected to the sign-in page with an
// empty body; otherwise the user is placed on the request context, where
// [UserFromContext] finds it.
//
// The guard never parses tokens itself. All decisions come from the
// [Resolver], normally a *bridge.Bridge.
package middleware
