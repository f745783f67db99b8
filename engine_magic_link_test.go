package linkauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendMagicLinkCreatesUserAndDeliversLink(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := te.SendMagicLink(ctx, "  Ada@Example.COM ", ""); err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}

	if _, err := te.users.GetUserByEmail(ctx, "ada@example.com"); err != nil {
		t.Fatalf("expected user to be created: %v", err)
	}

	link := te.mailer.lastLink(t, "ada@example.com")
	if link.Path != "/auth/v1/verify" {
		t.Fatalf("unexpected link path %q", link.Path)
	}
	q := link.Query()
	if q.Get("type") != "magiclink" {
		t.Fatalf("unexpected link type %q", q.Get("type"))
	}
	if q.Get("redirect_to") != te.config.MagicLink.DefaultRedirect {
		t.Fatalf("expected default redirect, got %q", q.Get("redirect_to"))
	}
	if got := te.MetricsSnapshot().Counters[MetricMagicLinkSent]; got != 1 {
		t.Fatalf("expected 1 link sent, got %d", got)
	}
}

func TestSendMagicLinkRejectsInvalidEmail(t *testing.T) {
	te := newTestEngine(t, testConfig())

	for _, email := range []string{"", "not-an-email", "Ada <ada@example.com>"} {
		if err := te.SendMagicLink(context.Background(), email, ""); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestSendMagicLinkWithoutAutoCreate(t *testing.T) {
	cfg := testConfig()
	cfg.MagicLink.AutoCreateUsers = false
	te := newTestEngine(t, cfg)

	if err := te.SendMagicLink(context.Background(), "nobody@example.com", ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSendMagicLinkDeliveryFailure(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.mailer.err = errors.New("smtp down")

	if err := te.SendMagicLink(context.Background(), "ada@example.com", ""); !errors.Is(err, ErrLinkDeliveryFailed) {
		t.Fatalf("expected ErrLinkDeliveryFailed, got %v", err)
	}
}

func TestSendMagicLinkRateLimitedPerEmail(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRequests = 2
	te := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := te.SendMagicLink(ctx, "ada@example.com", ""); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if err := te.SendMagicLink(ctx, "ADA@example.com", ""); !errors.Is(err, ErrSignInRateLimited) {
		t.Fatalf("expected ErrSignInRateLimited, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 1 {
		t.Fatalf("expected 1 rate limit hit, got %d", got)
	}
}

func TestSendMagicLinkRateLimitedPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRequests = 1
	te := newTestEngine(t, cfg)
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	if err := te.SendMagicLink(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if err := te.SendMagicLink(ctx, "b@example.com", ""); !errors.Is(err, ErrSignInRateLimited) {
		t.Fatalf("expected ErrSignInRateLimited, got %v", err)
	}
}

func TestVerifyLinkIssuesSession(t *testing.T) {
	te := newTestEngine(t, testConfig())

	sess := te.signIn(t, "ada@example.com")
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", sess)
	}
	if sess.TokenType != "bearer" {
		t.Fatalf("unexpected token type %q", sess.TokenType)
	}
	if sess.User == nil || sess.User.Email != "ada@example.com" {
		t.Fatalf("unexpected session user %+v", sess.User)
	}
	if sess.ExpiresIn <= 0 || sess.ExpiresIn > int64(time.Hour/time.Second) {
		t.Fatalf("unexpected expires_in %d", sess.ExpiresIn)
	}

	user, err := te.GetUser(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.ID != sess.User.ID {
		t.Fatalf("expected user %s, got %s", sess.User.ID, user.ID)
	}
}

func TestVerifyLinkIsSingleUse(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := te.SendMagicLink(ctx, "ada@example.com", ""); err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}
	token := te.mailer.lastToken(t, "ada@example.com")

	if _, err := te.VerifyLink(ctx, token); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	if _, err := te.VerifyLink(ctx, token); !errors.Is(err, ErrLinkInvalid) {
		t.Fatalf("expected ErrLinkInvalid on reuse, got %v", err)
	}
}

func TestVerifyLinkRejectsGarbage(t *testing.T) {
	te := newTestEngine(t, testConfig())

	if _, err := te.VerifyLink(context.Background(), "not-a-token"); !errors.Is(err, ErrLinkInvalid) {
		t.Fatalf("expected ErrLinkInvalid, got %v", err)
	}
}

func TestVerifyLinkExpired(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := te.SendMagicLink(ctx, "ada@example.com", ""); err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}
	token := te.mailer.lastToken(t, "ada@example.com")

	// The record outlives the key TTL here so the stored expiry is what rejects it.
	te.now = func() time.Time { return time.Now().Add(-time.Hour) }
	if err := te.SendMagicLink(ctx, "bob@example.com", ""); err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}
	stale := te.mailer.lastToken(t, "bob@example.com")
	te.now = time.Now

	if _, err := te.VerifyLink(ctx, stale); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}
	if _, err := te.VerifyLink(ctx, token); err != nil {
		t.Fatalf("fresh link should still verify: %v", err)
	}
}

func TestResolveRedirect(t *testing.T) {
	cfg := MagicLinkConfig{
		DefaultRedirect:  "http://localhost:3000/auth/callback",
		AllowedRedirects: []string{"https://app.example.com/"},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: cfg.DefaultRedirect},
		{name: "allowed", in: "https://app.example.com/auth/callback", want: "https://app.example.com/auth/callback"},
		{name: "foreign host", in: "https://evil.example.net/", want: cfg.DefaultRedirect},
		{name: "relative", in: "/auth/callback", want: cfg.DefaultRedirect},
		{name: "userinfo", in: "https://app.example.com@evil.example.net/", want: cfg.DefaultRedirect},
		{name: "scheme downgrade", in: "http://app.example.com/auth/callback", want: cfg.DefaultRedirect},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveRedirect(cfg, tc.in); got != tc.want {
				t.Fatalf("ResolveRedirect(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestResolveRedirectMatchesHostAndPathBoundaries(t *testing.T) {
	cfg := MagicLinkConfig{
		DefaultRedirect:  "http://localhost:3000/auth/callback",
		AllowedRedirects: []string{"https://app.example.com", "https://www.example.com/auth"},
	}

	tests := []struct {
		name    string
		in      string
		allowed bool
	}{
		{name: "bare host entry", in: "https://app.example.com/auth/callback", allowed: true},
		{name: "host case", in: "https://APP.example.com/auth/callback", allowed: true},
		{name: "lookalike host", in: "https://app.example.com.evil.net/auth/callback", allowed: false},
		{name: "port changes host", in: "https://app.example.com:8443/", allowed: false},
		{name: "path entry exact", in: "https://www.example.com/auth", allowed: true},
		{name: "path entry child", in: "https://www.example.com/auth/callback?x=1", allowed: true},
		{name: "path prefix without boundary", in: "https://www.example.com/authority", allowed: false},
		{name: "path entry other path", in: "https://www.example.com/", allowed: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := cfg.DefaultRedirect
			if tc.allowed {
				want = tc.in
			}
			if got := ResolveRedirect(cfg, tc.in); got != want {
				t.Fatalf("ResolveRedirect(%q) = %q, want %q", tc.in, got, want)
			}
		})
	}
}
