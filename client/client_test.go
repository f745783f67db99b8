package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/internal/testprovider"
)

type recorded struct {
	event   Event
	session *linkauth.Session
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) listen(event Event, sess *linkauth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{event: event, session: sess})
}

func (r *recorder) names() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func newTestClient(t *testing.T, p *testprovider.Provider) *Client {
	t.Helper()

	c, err := New(Config{URL: p.URL, APIKey: testprovider.APIKey})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func signIn(t *testing.T, p *testprovider.Provider, c *Client, email string) *linkauth.Session {
	t.Helper()

	ctx := context.Background()
	if err := c.SignIn(ctx, email); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	sess, err := c.VerifyLink(ctx, p.LastToken(t, email))
	if err != nil {
		t.Fatalf("VerifyLink failed: %v", err)
	}
	return sess
}

func flush(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected missing URL error")
	}
	if _, err := New(Config{URL: "localhost:9999", APIKey: "k"}); err == nil {
		t.Fatalf("expected relative URL error")
	}
	if _, err := New(Config{URL: "http://localhost:9999"}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestEventsDeliveredInTransitionOrder(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()

	rec := &recorder{}
	sub := c.OnAuthStateChange(rec.listen)
	defer sub.Unsubscribe()

	sess := signIn(t, p, c, "ada@example.com")
	if _, err := c.Update(ctx, linkauth.UserAttributes{Data: map[string]any{"city": "New York"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	flush(t, c)

	want := []Event{EventSignedIn, EventUserUpdated, EventTokenRefreshed, EventSignedOut}
	got := rec.names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	rec.mu.Lock()
	first := rec.events[0].session
	last := rec.events[3].session
	rec.mu.Unlock()
	if first == nil || first.User.ID != sess.User.ID {
		t.Fatalf("SIGNED_IN should carry the session")
	}
	if last != nil {
		t.Fatalf("SIGNED_OUT should carry a nil session")
	}
	if c.Session() != nil {
		t.Fatalf("expected local session cleared")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)

	rec := &recorder{}
	sub := c.OnAuthStateChange(rec.listen)
	other := &recorder{}
	c.OnAuthStateChange(other.listen)

	sub.Unsubscribe()
	sub.Unsubscribe()

	signIn(t, p, c, "ada@example.com")
	flush(t, c)

	if n := len(rec.names()); n != 0 {
		t.Fatalf("unsubscribed listener got %d events", n)
	}
	if n := len(other.names()); n != 1 {
		t.Fatalf("remaining listener expected 1 event, got %d", n)
	}
}

func TestListenersNeverOverlap(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)

	var (
		mu      sync.Mutex
		active  int
		overlap bool
	)
	c.OnAuthStateChange(func(Event, *linkauth.Session) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	})
	c.OnAuthStateChange(func(Event, *linkauth.Session) {
		mu.Lock()
		if active > 0 {
			overlap = true
		}
		mu.Unlock()
	})

	signIn(t, p, c, "ada@example.com")
	for i := 0; i < 3; i++ {
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
	}
	flush(t, c)

	if overlap {
		t.Fatalf("listener callbacks overlapped")
	}
}

func TestUserReturnsNilWithoutSession(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)

	user, err := c.User(context.Background())
	if err != nil || user != nil {
		t.Fatalf("expected nil user and nil error, got %v, %v", user, err)
	}
	if _, err := c.Update(context.Background(), linkauth.UserAttributes{Data: map[string]any{"a": 1}}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestUpdateRoundTripsMetadata(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()
	signIn(t, p, c, "ada@example.com")

	if _, err := c.Update(ctx, linkauth.UserAttributes{Data: map[string]any{"city": "New York"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	user, err := c.User(ctx)
	if err != nil {
		t.Fatalf("User failed: %v", err)
	}
	if user.Metadata["city"] != "New York" {
		t.Fatalf("expected metadata.city New York, got %v", user.Metadata["city"])
	}
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()

	if err := c.SignIn(ctx, "not-an-email"); !errors.Is(err, linkauth.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := c.VerifyLink(ctx, "garbage"); !errors.Is(err, linkauth.ErrLinkInvalid) {
		t.Fatalf("expected ErrLinkInvalid, got %v", err)
	}
	if _, err := c.GetUser(ctx, "not.a.jwt"); !errors.Is(err, linkauth.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	var apiErr *APIError
	if _, err := c.GetUser(ctx, "not.a.jwt"); !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("expected *APIError with status 401, got %v", err)
	}

	bad, err := New(Config{URL: p.URL, APIKey: "wrong"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer bad.Close()
	if err := bad.SignIn(ctx, "ada@example.com"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestProviderDownIsUnavailable(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	p.Server.Close()

	if err := c.SignIn(context.Background(), "ada@example.com"); !errors.Is(err, linkauth.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSignOutClearsEvenWhenRevoked(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()
	sess := signIn(t, p, c, "ada@example.com")

	// Revoked elsewhere: the provider now rejects the token.
	if err := p.Engine.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("engine SignOut failed: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut should tolerate a revoked session, got %v", err)
	}
	if c.Session() != nil {
		t.Fatalf("expected local session cleared")
	}
}

func TestRejectedRefreshSignsOut(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()
	sess := signIn(t, p, c, "ada@example.com")

	rec := &recorder{}
	c.OnAuthStateChange(rec.listen)

	if err := p.Engine.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("engine SignOut failed: %v", err)
	}
	if _, err := c.Refresh(ctx); !errors.Is(err, linkauth.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	flush(t, c)

	if got := rec.names(); len(got) != 1 || got[0] != EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", got)
	}
}

func TestAutoRefresh(t *testing.T) {
	p := testprovider.Start(t, func(cfg *linkauth.Config) {
		cfg.JWT.AccessTTL = 2 * time.Second
	})
	c, err := New(Config{URL: p.URL, APIKey: testprovider.APIKey, AutoRefresh: true, RefreshMargin: 1900 * time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	refreshed := make(chan struct{}, 1)
	c.OnAuthStateChange(func(e Event, _ *linkauth.Session) {
		if e == EventTokenRefreshed {
			select {
			case refreshed <- struct{}{}:
			default:
			}
		}
	})

	signIn(t, p, c, "ada@example.com")

	select {
	case <-refreshed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected an automatic refresh")
	}
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)

	c.OnAuthStateChange(func(Event, *linkauth.Session) { panic("boom") })
	rec := &recorder{}
	c.OnAuthStateChange(rec.listen)

	signIn(t, p, c, "ada@example.com")
	flush(t, c)

	if n := len(rec.names()); n != 1 {
		t.Fatalf("expected 1 event after a panicking listener, got %d", n)
	}
}

func TestRevokeLeavesLocalState(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	ctx := context.Background()
	sess := signIn(t, p, c, "ada@example.com")

	rec := &recorder{}
	c.OnAuthStateChange(rec.listen)

	if err := c.Revoke(ctx, sess.AccessToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := c.Revoke(ctx, sess.AccessToken); err != nil {
		t.Fatalf("second Revoke should be a no-op, got %v", err)
	}
	if _, err := c.GetUser(ctx, sess.AccessToken); !errors.Is(err, linkauth.ErrTokenInvalid) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}

	flush(t, c)
	if c.Session() == nil || len(rec.names()) != 0 {
		t.Fatalf("Revoke must not change local state or emit events")
	}
}

func TestCallsAfterCloseReturnErrClosed(t *testing.T) {
	p := testprovider.Start(t, nil)
	c := newTestClient(t, p)
	sess := signIn(t, p, c, "ada@example.com")

	rec := &recorder{}
	c.OnAuthStateChange(rec.listen)
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Flush(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush: expected ErrClosed, got %v", err)
	}
	if err := c.SignOut(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("SignOut: expected ErrClosed, got %v", err)
	}
	if err := c.SignIn(ctx, "ada@example.com"); !errors.Is(err, ErrClosed) {
		t.Fatalf("SignIn: expected ErrClosed, got %v", err)
	}
	if _, err := c.GetUser(ctx, sess.AccessToken); !errors.Is(err, ErrClosed) {
		t.Fatalf("GetUser: expected ErrClosed, got %v", err)
	}
	if err := c.Revoke(ctx, sess.AccessToken); !errors.Is(err, ErrClosed) {
		t.Fatalf("Revoke: expected ErrClosed, got %v", err)
	}

	if c.Session() == nil || c.Session().AccessToken != sess.AccessToken {
		t.Fatalf("state must stay frozen after Close")
	}
	if got := rec.names(); len(got) != 0 {
		t.Fatalf("no events expected after Close, got %v", got)
	}
	if _, err := p.Engine.GetUser(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("a closed client must not revoke the session: %v", err)
	}
}

func TestDispatcherRejectsWorkAfterClose(t *testing.T) {
	d := newDispatcher(func(delivery) {})
	if !d.enqueue(delivery{event: EventSignedIn}) {
		t.Fatalf("enqueue before close should succeed")
	}
	d.close()

	if d.enqueue(delivery{event: EventSignedOut}) {
		t.Fatalf("enqueue after close should be refused")
	}
	if err := d.flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("flush after close: expected ErrClosed, got %v", err)
	}
}

func TestClientIPForwarded(t *testing.T) {
	var (
		mu  sync.Mutex
		got string
	)
	forwarded := func() string {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Get("X-Forwarded-For")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "anon"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if err := c.SignIn(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if ip := forwarded(); ip != "" {
		t.Fatalf("expected no forwarded IP without WithClientIP, got %q", ip)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	if err := c.SignIn(ctx, "ada@example.com"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if ip := forwarded(); ip != "203.0.113.9" {
		t.Fatalf("expected X-Forwarded-For 203.0.113.9, got %q", ip)
	}
}
