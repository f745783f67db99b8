package shell

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/client"
	"github.com/MrEthical07/linkauth/internal/logging"
)

var (
	ErrShellStarted = errors.New("shell: already started")
	ErrShellClosed  = errors.New("shell: closed")
	ErrEmptyEmail   = errors.New("shell: email required")
)

// State is the UI authentication flag.
type State int32

const (
	StateUnauthenticated State = iota
	StatePending
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Store is the part of *client.Client the shell drives.
type Store interface {
	SignIn(ctx context.Context, email string, opts ...client.SignInOption) error
	User(ctx context.Context) (*linkauth.User, error)
	OnAuthStateChange(cb client.Listener) *client.Subscription
}

// Navigator moves the tab to another route.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Config wires a Shell to the cookie endpoint and the app routes.
type Config struct {
	// CookieEndpoint is the absolute URL of the cookie bridge write path,
	// for example http://localhost:3000/api/auth.
	CookieEndpoint string
	// RedirectTo is passed to SignIn when non-empty.
	RedirectTo  string
	ProfilePath string
	SignInPath  string

	HTTPClient *http.Client
	// SyncMaxElapsed bounds the retries of one cookie write (default 5s).
	SyncMaxElapsed time.Duration
	// SyncInitialInterval is the first retry delay (default 100ms).
	SyncInitialInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProfilePath == "" {
		c.ProfilePath = "/profile"
	}
	if c.SignInPath == "" {
		c.SignInPath = "/sign-in"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.SyncMaxElapsed <= 0 {
		c.SyncMaxElapsed = 5 * time.Second
	}
	if c.SyncInitialInterval <= 0 {
		c.SyncInitialInterval = 100 * time.Millisecond
	}
	return c
}

// Shell reacts to auth events for one tab.
type Shell struct {
	store Store
	nav   Navigator
	cfg   Config
	log   *slog.Logger

	mu          sync.Mutex
	state       State
	sub         *client.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	closed      bool
	lastSyncErr error
}

// New returns an unstarted Shell. CookieEndpoint is required.
func New(store Store, nav Navigator, cfg Config) (*Shell, error) {
	if store == nil {
		return nil, errors.New("shell: nil store")
	}
	if nav == nil {
		return nil, errors.New("shell: nil navigator")
	}
	if strings.TrimSpace(cfg.CookieEndpoint) == "" {
		return nil, errors.New("shell: CookieEndpoint required")
	}
	cfg = cfg.withDefaults()
	return &Shell{
		store: store,
		nav:   nav,
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger),
		state: StateUnauthenticated,
	}, nil
}

// Start subscribes to auth events. ctx bounds every cookie write made by the
// subscription. A shell starts once.
func (s *Shell) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShellClosed
	}
	if s.started {
		return ErrShellStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sub = s.store.OnAuthStateChange(s.handle)
	return nil
}

// Close releases the subscription and aborts an in-flight cookie write.
// Later calls do nothing.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// State returns the current UI flag.
func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSyncError returns the error of the most recent cookie write, or nil if
// it succeeded.
func (s *Shell) LastSyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncErr
}

// SubmitEmail requests a magic link. The shell becomes pending only when the
// request succeeds; a failure is logged and returned with the state unchanged.
func (s *Shell) SubmitEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}

	var opts []client.SignInOption
	if s.cfg.RedirectTo != "" {
		opts = append(opts, client.WithRedirectTo(s.cfg.RedirectTo))
	}
	if err := s.store.SignIn(ctx, email, opts...); err != nil {
		s.log.ErrorContext(ctx, "signin.failed", "err", err)
		return err
	}

	s.mu.Lock()
	if s.state == StateUnauthenticated {
		s.state = StatePending
	}
	s.mu.Unlock()
	return nil
}

func (s *Shell) handle(event client.Event, sess *linkauth.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	switch event {
	case client.EventSignedIn:
		s.state = StateAuthenticated
	case client.EventSignedOut:
		s.state = StateUnauthenticated
	}
	s.mu.Unlock()

	if event == client.EventSignedIn {
		s.nav.Navigate(s.cfg.ProfilePath)
	}

	err := s.syncCookie(ctx, event, sess)

	s.mu.Lock()
	s.lastSyncErr = err
	s.mu.Unlock()
}
