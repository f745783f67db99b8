package linkauth

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockDirectory struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
	nextID  int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		byID:    map[string]*User{},
		byEmail: map[string]string{},
	}
}

func (d *mockDirectory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyTestUser(d.byID[id]), nil
}

func (d *mockDirectory) GetUserByID(_ context.Context, id string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyTestUser(u), nil
}

func (d *mockDirectory) CreateUser(_ context.Context, email string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	d.nextID++
	now := time.Now().UTC()
	u := &User{
		ID:        "user-" + strconv.Itoa(d.nextID),
		Email:     email,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.byID[u.ID] = u
	d.byEmail[email] = u.ID
	return copyTestUser(u), nil
}

func (d *mockDirectory) UpdateUserMetadata(_ context.Context, id string, patch map[string]any) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	for k, v := range patch {
		if v == nil {
			delete(u.Metadata, k)
			continue
		}
		u.Metadata[k] = v
	}
	u.UpdatedAt = time.Now().UTC()
	return copyTestUser(u), nil
}

func copyTestUser(u *User) *User {
	out := *u
	out.Metadata = make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

type captureMailer struct {
	mu    sync.Mutex
	links map[string][]string
	err   error
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{links: map[string][]string{}}
}

func (m *captureMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.links[email] = append(m.links[email], link)
	return nil
}

func (m *captureMailer) lastLink(t *testing.T, email string) *url.URL {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	links := m.links[email]
	if len(links) == 0 {
		t.Fatalf("no link sent to %s", email)
	}
	u, err := url.Parse(links[len(links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u
}

func (m *captureMailer) lastToken(t *testing.T, email string) string {
	t.Helper()
	token := m.lastLink(t, email).Query().Get("token")
	if token == "" {
		t.Fatalf("link for %s carries no token", email)
	}
	return token
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Audit.Enabled = false
	return cfg
}

type testEngine struct {
	*Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *mockDirectory
	mailer *captureMailer
}

func newTestEngine(t *testing.T, cfg Config, opts ...func(*Builder)) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	users := newMockDirectory()
	mailer := newCaptureMailer()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(users).
		WithMailer(mailer)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, users: users, mailer: mailer}
}

// signIn runs the full link round trip and returns the resulting session.
func (te *testEngine) signIn(t *testing.T, email string) *Session {
	t.Helper()

	ctx := context.Background()
	if err := te.SendMagicLink(ctx, email, ""); err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}
	sess, err := te.VerifyLink(ctx, te.mailer.lastToken(t, email))
	if err != nil {
		t.Fatalf("VerifyLink failed: %v", err)
	}
	return sess
}
