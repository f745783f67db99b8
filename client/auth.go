package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/MrEthical07/linkauth"
)

// SignInOption customises SignIn.
type SignInOption func(*signInOptions)

type signInOptions struct {
	redirectTo string
}

// WithRedirectTo overrides Config.RedirectTo for one SignIn.
func WithRedirectTo(u string) SignInOption {
	return func(o *signInOptions) {
		o.redirectTo = u
	}
}

// SignIn asks the provider to email a magic link. State does not change
// until the link is redeemed with VerifyLink.
func (c *Client) SignIn(ctx context.Context, email string, opts ...SignInOption) error {
	o := signInOptions{redirectTo: c.redirectTo}
	for _, opt := range opts {
		opt(&o)
	}

	body := map[string]string{"email": email}
	if o.redirectTo != "" {
		body["redirect_to"] = o.redirectTo
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/otp", nil, "", body, nil)
}

// VerifyLink redeems a magic link token, stores the session, and emits
// EventSignedIn.
func (c *Client) VerifyLink(ctx context.Context, token string) (*linkauth.Session, error) {
	var sess linkauth.Session
	body := map[string]string{"token": token, "type": "magiclink"}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/verify", nil, "", body, &sess); err != nil {
		return nil, err
	}

	c.setSessionAndEmit(&sess, EventSignedIn)
	return cloneSession(&sess), nil
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *linkauth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// User fetches the current user from the provider. It returns nil without
// error when there is no session.
func (c *Client) User(ctx context.Context) (*linkauth.User, error) {
	sess := c.Session()
	if sess == nil {
		return nil, nil
	}

	user, err := c.GetUser(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil && c.session.AccessToken == sess.AccessToken {
		c.session.User = cloneUser(user)
	}
	c.mu.Unlock()

	return user, nil
}

// GetUser resolves any access token without touching client state. It lets
// a Client act as the cookie bridge's verifier.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*linkauth.User, error) {
	if accessToken == "" {
		return nil, linkauth.ErrTokenInvalid
	}

	var user linkauth.User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Update merges attrs.Data into the user's metadata and emits
// EventUserUpdated.
func (c *Client) Update(ctx context.Context, attrs linkauth.UserAttributes) (*linkauth.User, error) {
	sess := c.Session()
	if sess == nil {
		return nil, ErrNoSession
	}

	var user linkauth.User
	if err := c.do(ctx, http.MethodPut, "/auth/v1/user", nil, sess.AccessToken, attrs, &user); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != sess.AccessToken {
		// Signed out or refreshed meanwhile; the update stands but the
		// event belongs to the old session.
		c.mu.Unlock()
		return &user, nil
	}
	next := cloneSession(c.session)
	next.User = cloneUser(&user)
	c.setSessionAndEmitLocked(next, EventUserUpdated)
	c.mu.Unlock()

	return &user, nil
}

// Refresh rotates the token pair and emits EventTokenRefreshed. A rejected
// refresh token ends the session and emits EventSignedOut.
func (c *Client) Refresh(ctx context.Context) (*linkauth.Session, error) {
	sess := c.Session()
	if sess == nil {
		return nil, ErrNoSession
	}

	var next linkauth.Session
	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": sess.RefreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", body, &next); err != nil {
		if errors.Is(err, linkauth.ErrTokenInvalid) || errors.Is(err, linkauth.ErrSessionExpired) {
			c.clearIfCurrent(sess.AccessToken)
		}
		return nil, err
	}

	c.setSessionAndEmit(&next, EventTokenRefreshed)
	return cloneSession(&next), nil
}

// SignOut revokes the session on the provider, then clears local state and
// emits EventSignedOut even when the provider call fails. A provider error
// other than an already invalid token is returned after the local sign-out.
func (c *Client) SignOut(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	sess := c.Session()
	if sess == nil {
		c.setSessionAndEmit(nil, EventSignedOut)
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, sess.AccessToken, nil, nil)
	c.setSessionAndEmit(nil, EventSignedOut)

	if errors.Is(err, linkauth.ErrTokenInvalid) || errors.Is(err, linkauth.ErrSessionExpired) {
		return nil
	}
	return err
}

func (c *Client) clearIfCurrent(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken == accessToken {
		c.setSessionAndEmitLocked(nil, EventSignedOut)
	}
}

// Revoke signs out the session behind accessToken without touching client
// state. A token that is already invalid or expired is not an error.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
	if errors.Is(err, linkauth.ErrTokenInvalid) || errors.Is(err, linkauth.ErrSessionExpired) {
		return nil
	}
	return err
}
