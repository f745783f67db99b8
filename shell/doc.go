// Package shell is the application shell that runs next to the Session
// Store in a tab.
//
// A Shell owns exactly one auth-state subscription for its lifetime. It
// tracks whether the tab is signed out, waiting for a magic link, or signed
// in, navigates on sign-in, and mirrors every auth event into the session
// cookie through the cookie bridge endpoint. The cookie write is awaited and
// retried before the listener returns.
//
// ProfileView is the client-side route guard for the profile page.
package shell
