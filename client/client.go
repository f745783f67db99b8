package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/internal/logging"
)

const maxResponseBytes = 1 << 20

// Config configures a Client.
type Config struct {
	// URL is the provider base URL, for example http://localhost:9999.
	URL string
	// APIKey is the public key sent in the "apikey" header.
	APIKey string
	// RedirectTo is the default redirect_to for SignIn.
	RedirectTo string
	// AutoRefresh refreshes the session shortly before the access token expires.
	AutoRefresh bool
	// RefreshMargin is how long before expiry AutoRefresh fires (default 30s).
	RefreshMargin time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is safe for concurrent use. Call Close to stop event delivery.
type Client struct {
	base       *url.URL
	apiKey     string
	redirectTo string
	http       *http.Client
	log        *slog.Logger

	autoRefresh   bool
	refreshMargin time.Duration

	mu           sync.Mutex
	session      *linkauth.Session
	refreshTimer *time.Timer
	listeners    map[uint64]Listener
	nextID       uint64
	closed       bool

	events *dispatcher
}

// New validates cfg and starts the event dispatcher.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("client: URL required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("client: URL must be an absolute http(s) URL, got %q", raw)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("client: APIKey required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 30 * time.Second
	}

	c := &Client{
		base:          base,
		apiKey:        cfg.APIKey,
		redirectTo:    cfg.RedirectTo,
		http:          hc,
		log:           logging.OrDiscard(cfg.Logger),
		autoRefresh:   cfg.AutoRefresh,
		refreshMargin: margin,
		listeners:     make(map[uint64]Listener),
	}
	c.events = newDispatcher(c.deliver)
	return c, nil
}

// Close stops auto refresh and, after queued events are delivered, the
// dispatcher. Later calls that reach the provider or emit events return
// ErrClosed. Close must not be called from a listener.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopRefreshTimerLocked()
	c.mu.Unlock()

	c.events.close()
}

// OnAuthStateChange registers cb for every later transition.
func (c *Client) OnAuthStateChange(cb Listener) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = cb
	return &Subscription{c: c, id: id}
}

// Flush blocks until every event emitted before the call has been delivered.
func (c *Client) Flush(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.events.flush(ctx)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) removeListener(id uint64) {
	c.mu.Lock()
	delete(c.listeners, id)
	c.mu.Unlock()
}

// setSessionAndEmit swaps the session and queues event under one lock, so
// queue order matches state order.
func (c *Client) setSessionAndEmit(sess *linkauth.Session, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSessionAndEmitLocked(sess, event)
}

func (c *Client) setSessionAndEmitLocked(sess *linkauth.Session, event Event) {
	if c.closed {
		return
	}
	c.session = sess
	c.stopRefreshTimerLocked()
	if sess != nil && c.autoRefresh {
		c.scheduleRefreshLocked(sess)
	}

	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	c.events.enqueue(delivery{event: event, session: cloneSession(sess), listeners: ids})
}

func (c *Client) deliver(item delivery) {
	if item.event == "" {
		return
	}
	for _, id := range item.listeners {
		c.mu.Lock()
		cb, ok := c.listeners[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.safeCall(cb, item)
	}
}

func (c *Client) safeCall(cb Listener, item delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("client.listener_panic", "event", string(item.event), "panic", fmt.Sprint(r))
		}
	}()
	cb(item.event, cloneSession(item.session))
}

func (c *Client) scheduleRefreshLocked(sess *linkauth.Session) {
	wait := time.Until(sess.Expiry()) - c.refreshMargin
	if wait < 0 {
		wait = 0
	}
	token := sess.RefreshToken
	c.refreshTimer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		current := c.session
		c.mu.Unlock()
		if current == nil || current.RefreshToken != token {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := c.Refresh(ctx); err != nil {
			c.log.Warn("client.auto_refresh_failed", "err", err)
		}
	})
}

func (c *Client) stopRefreshTimerLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	if c.isClosed() {
		return ErrClosed
	}
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if ip, _ := ctx.Value(clientIPKey{}).(string); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", linkauth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", linkauth.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = ""
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type clientIPKey struct{}

// WithClientIP marks ctx with the end user's IP. Requests made with ctx send
// it as X-Forwarded-For, so a provider trusting the application's proxy
// headers rate-limits each browser instead of the application server.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func cloneSession(sess *linkauth.Session) *linkauth.Session {
	if sess == nil {
		return nil
	}
	out := *sess
	out.User = cloneUser(sess.User)
	return &out
}

func cloneUser(u *linkauth.User) *linkauth.User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Metadata != nil {
		out.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
