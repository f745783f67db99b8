// Package client is the session store used by applications: it talks to the
// provider HTTP API, holds the current session for one tab, and notifies
// listeners of auth state changes.
//
// Listeners registered with [Client.OnAuthStateChange] are called on a single
// dispatcher goroutine, one event at a time, in the order state changed.
package client
