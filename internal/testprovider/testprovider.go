// Package testprovider runs a complete provider (engine, HTTP API, in-memory
// Redis and users) on an httptest server for package tests.
package testprovider

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/authapi"
	"github.com/MrEthical07/linkauth/mail"
	"github.com/MrEthical07/linkauth/users"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// APIKey is the public key the test provider accepts.
const APIKey = "test-anon-key"

// Provider is a running test provider.
type Provider struct {
	URL    string
	Engine *linkauth.Engine
	Users  *users.Memory
	Outbox *mail.Outbox
	Redis  *miniredis.Miniredis
	Server *httptest.Server
}

// Start runs a provider until the test ends. mutate, when non-nil, adjusts
// the engine config before build.
func Start(t testing.TB, mutate func(*linkauth.Config)) *Provider {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := linkauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Audit.Enabled = false
	cfg.RateLimit.MaxRequests = 100
	if mutate != nil {
		mutate(&cfg)
	}

	dir := users.NewMemory()
	outbox := mail.NewOutbox(16)
	engine, err := linkauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(dir).
		WithMailer(outbox).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	// Apps under test forward the browser IP in X-Forwarded-For.
	api, err := authapi.New(engine, authapi.Config{APIKey: APIKey, TrustProxy: true}, nil)
	if err != nil {
		t.Fatalf("authapi.New failed: %v", err)
	}
	srv := httptest.NewServer(api.Routes())

	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &Provider{
		URL:    srv.URL,
		Engine: engine,
		Users:  dir,
		Outbox: outbox,
		Redis:  mr,
		Server: srv,
	}
}

// LastToken returns the token of the newest magic link sent to email.
func (p *Provider) LastToken(t testing.TB, email string) string {
	t.Helper()

	msg, err := p.Outbox.Last(email)
	if err != nil {
		t.Fatalf("no magic link for %s: %v", email, err)
	}
	u, err := url.Parse(msg.Link)
	if err != nil {
		t.Fatalf("parse magic link: %v", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("magic link for %s has no token", email)
	}
	return token
}
