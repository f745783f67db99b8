package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/client"
	"github.com/MrEthical07/linkauth/internal/testprovider"
)

type stubVerifier struct {
	user *linkauth.User
	err  error
}

func (s stubVerifier) GetUser(context.Context, string) (*linkauth.User, error) {
	return s.user, s.err
}

func newTestBridge(t *testing.T, v Verifier) *Bridge {
	t.Helper()
	b, err := New(v, Config{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func post(b *Bridge, body string) *httptest.ResponseRecorder {
	return postWith(b, body, map[string]string{"Content-Type": "application/json"})
}

func postWith(b *Bridge, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", name)
	return nil
}

func TestWritePathSetsCookie(t *testing.T) {
	b := newTestBridge(t, stubVerifier{})
	expires := time.Now().Add(time.Hour).Unix()

	rec := post(b, fmt.Sprintf(`{"event":"SIGNED_IN","session":{"access_token":"tok","expires_at":%d}}`, expires))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body")
	}

	c := sessionCookie(t, rec, DefaultCookieName)
	if c.Value != "tok" || !c.HttpOnly || c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if c.MaxAge <= 0 || c.MaxAge > 3600 {
		t.Fatalf("unexpected MaxAge %d", c.MaxAge)
	}
	if c.Expires.Unix() != expires {
		t.Fatalf("expected Expires %d, got %d", expires, c.Expires.Unix())
	}
}

func TestWritePathClearsOnSignOut(t *testing.T) {
	b := newTestBridge(t, stubVerifier{})

	rec := post(b, `{"event":"SIGNED_OUT","session":null}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if c := sessionCookie(t, rec, DefaultCookieName); c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("expected a deletion cookie, got %+v", c)
	}
}

func TestWritePathRejectsBadInput(t *testing.T) {
	b := newTestBridge(t, stubVerifier{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"event":`},
		{name: "unknown event", body: `{"event":"PASSWORD_RECOVERY","session":null}`},
		{name: "sign in without session", body: `{"event":"SIGNED_IN","session":null}`},
		{name: "sign in without token", body: `{"event":"SIGNED_IN","session":{"expires_at":1}}`},
		{name: "trailing data", body: `{"event":"SIGNED_OUT","session":null}{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := post(b, tc.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWritePathExpiredSessionClears(t *testing.T) {
	b := newTestBridge(t, stubVerifier{})

	rec := post(b, fmt.Sprintf(`{"event":"TOKEN_REFRESHED","session":{"access_token":"tok","expires_at":%d}}`, time.Now().Add(-time.Minute).Unix()))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if c := sessionCookie(t, rec, DefaultCookieName); c.MaxAge >= 0 {
		t.Fatalf("expected deletion cookie for expired session, got %+v", c)
	}
}

func TestResolveReasons(t *testing.T) {
	user := &linkauth.User{ID: "u1", Email: "ada@example.com"}

	tests := []struct {
		name     string
		verifier stubVerifier
		cookie   string
		want     Reason
	}{
		{name: "no cookie", verifier: stubVerifier{user: user}, want: ReasonAbsent},
		{name: "valid", verifier: stubVerifier{user: user}, cookie: "tok", want: ReasonAuthenticated},
		{name: "forged", verifier: stubVerifier{err: linkauth.ErrTokenInvalid}, cookie: "tok", want: ReasonInvalid},
		{name: "revoked", verifier: stubVerifier{err: linkauth.ErrSessionNotFound}, cookie: "tok", want: ReasonInvalid},
		{name: "expired", verifier: stubVerifier{err: fmt.Errorf("api: %w", linkauth.ErrSessionExpired)}, cookie: "tok", want: ReasonExpired},
		{name: "down", verifier: stubVerifier{err: linkauth.ErrProviderUnavailable}, cookie: "tok", want: ReasonUnavailable},
		{name: "unknown error", verifier: stubVerifier{err: errors.New("boom")}, cookie: "tok", want: ReasonUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBridge(t, tc.verifier)
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tc.cookie})
			}

			res := b.Resolve(req)
			if res.Reason != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Reason)
			}
			if (res.User != nil) != (tc.want == ReasonAuthenticated) {
				t.Fatalf("user presence does not match reason: %+v", res)
			}
			if got := b.User(req); (got != nil) != res.Authenticated() {
				t.Fatalf("User and Resolve disagree")
			}
		})
	}
}

// cookieFrom replays the write path's Set-Cookie on a new request.
func cookieFrom(t *testing.T, b *Bridge, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for _, c := range rec.Result().Cookies() {
		if c.Name == b.CookieName() && c.MaxAge > 0 {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return req
}

func TestHandshakeAgainstProvider(t *testing.T) {
	p := testprovider.Start(t, nil)
	c, err := client.New(client.Config{URL: p.URL, APIKey: testprovider.APIKey})
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	defer c.Close()

	b := newTestBridge(t, c)
	ctx := context.Background()

	if err := c.SignIn(ctx, "ada@example.com"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	sess, err := c.VerifyLink(ctx, p.LastToken(t, "ada@example.com"))
	if err != nil {
		t.Fatalf("VerifyLink failed: %v", err)
	}

	rec := post(b, fmt.Sprintf(`{"event":"SIGNED_IN","session":{"access_token":%q,"expires_at":%d}}`, sess.AccessToken, sess.ExpiresAt))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write path: expected 204, got %d", rec.Code)
	}

	user := b.User(cookieFrom(t, b, rec))
	if user == nil || user.ID != sess.User.ID {
		t.Fatalf("expected cookie to resolve to %s, got %+v", sess.User.ID, user)
	}

	// Revoked server side while the tab still holds its session.
	if err := p.Engine.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("engine SignOut failed: %v", err)
	}
	if res := b.Resolve(cookieFrom(t, b, rec)); res.Reason != ReasonInvalid {
		t.Fatalf("expected revoked cookie to be invalid, got %s", res.Reason)
	}
	if c.Session() == nil {
		t.Fatalf("tab session should be untouched")
	}
}

func TestEngineIsAVerifier(t *testing.T) {
	var _ Verifier = (*linkauth.Engine)(nil)
	var _ Verifier = (*client.Client)(nil)
}

func TestWritePathRequiresJSON(t *testing.T) {
	b := newTestBridge(t, stubVerifier{})
	body := fmt.Sprintf(`{"event":"SIGNED_IN","session":{"access_token":"tok","expires_at":%d}}`, time.Now().Add(time.Hour).Unix())

	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{name: "json", contentType: "application/json", want: http.StatusNoContent},
		{name: "json with charset", contentType: "application/json; charset=utf-8", want: http.StatusNoContent},
		{name: "text plain form", contentType: "text/plain", want: http.StatusUnsupportedMediaType},
		{name: "urlencoded form", contentType: "application/x-www-form-urlencoded", want: http.StatusUnsupportedMediaType},
		{name: "missing", contentType: "", want: http.StatusUnsupportedMediaType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postWith(b, body, map[string]string{"Content-Type": tc.contentType})
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want != http.StatusNoContent && len(rec.Result().Cookies()) != 0 {
				t.Fatalf("rejected request must not touch the cookie")
			}
		})
	}
}

func TestWritePathRejectsCrossSite(t *testing.T) {
	b, err := New(stubVerifier{}, Config{AllowedOrigins: []string{"https://app.example.com/"}}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	body := fmt.Sprintf(`{"event":"SIGNED_IN","session":{"access_token":"attacker-token","expires_at":%d}}`, time.Now().Add(time.Hour).Unix())

	// httptest.NewRequest targets host example.com.
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "foreign origin", headers: map[string]string{"Origin": "https://evil.example"}, want: http.StatusForbidden},
		{name: "cross-site fetch", headers: map[string]string{"Sec-Fetch-Site": "cross-site"}, want: http.StatusForbidden},
		{name: "same-site fetch", headers: map[string]string{"Sec-Fetch-Site": "same-site"}, want: http.StatusForbidden},
		{name: "opaque origin", headers: map[string]string{"Origin": "null"}, want: http.StatusForbidden},
		{name: "lookalike origin", headers: map[string]string{"Origin": "https://example.com.evil.net"}, want: http.StatusForbidden},
		{name: "same origin", headers: map[string]string{"Origin": "http://example.com", "Sec-Fetch-Site": "same-origin"}, want: http.StatusNoContent},
		{name: "allowed origin", headers: map[string]string{"Origin": "https://app.example.com"}, want: http.StatusNoContent},
		{name: "non-browser client", headers: map[string]string{}, want: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{"Content-Type": "application/json"}
			for k, v := range tc.headers {
				headers[k] = v
			}
			rec := postWith(b, body, headers)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusForbidden && len(rec.Result().Cookies()) != 0 {
				t.Fatalf("rejected request must not touch the cookie")
			}
		})
	}

	// A cross-site text/plain form post is rejected before the body is read.
	rec := postWith(b, body, map[string]string{
		"Content-Type":   "text/plain",
		"Origin":         "https://evil.example",
		"Sec-Fetch-Site": "cross-site",
	})
	if rec.Code != http.StatusForbidden || len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected 403 without a cookie, got %d %v", rec.Code, rec.Result().Cookies())
	}
}
