// Package bridge carries a session between the tab and server-rendered
// requests through one HttpOnly cookie.
//
// The write path (Bridge.ServeHTTP, mounted at POST /api/auth) stores or
// clears the cookie for an auth event. The read path (Resolve, User) turns
// the cookie back into a verified user, or nothing.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/client"
	"github.com/MrEthical07/linkauth/internal/logging"
)

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "linkauth-access-token"

// Verifier resolves an access token to its user. *client.Client and
// *linkauth.Engine both implement it.
type Verifier interface {
	GetUser(ctx context.Context, accessToken string) (*linkauth.User, error)
}

// Config controls the cookie and the write path.
type Config struct {
	CookieName   string
	Domain       string
	Secure       bool
	MaxBodyBytes int64
	// AllowedOrigins lists extra origins, as scheme://host[:port], that may
	// post to the write path. The request's own host is always allowed.
	AllowedOrigins []string
}

// Bridge serves the write path and resolves cookies on the read path.
type Bridge struct {
	verifier Verifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New returns a Bridge that verifies cookies with verifier.
func New(verifier Verifier, cfg Config, log *slog.Logger) (*Bridge, error) {
	if verifier == nil {
		return nil, errors.New("bridge: nil verifier")
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 10
	}
	return &Bridge{
		verifier: verifier,
		cfg:      cfg,
		log:      logging.OrDiscard(log),
		now:      time.Now,
	}, nil
}

// CookieName returns the name of the session cookie.
func (b *Bridge) CookieName() string {
	return b.cfg.CookieName
}

// Payload is the write-path request body.
type Payload struct {
	Event   client.Event      `json:"event"`
	Session *linkauth.Session `json:"session"`
}

// ServeHTTP is the write path. A non-nil session sets the cookie, a null
// session clears it. It answers 204 on success.
//
// Only same-origin JSON posts are accepted. A form cannot send
// application/json, and browsers mark cross-site requests with Origin and
// Sec-Fetch-Site, so another site cannot plant or clear the cookie.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !b.sameOrigin(r) {
		b.log.WarnContext(r.Context(), "bridge.cross_site_rejected",
			"origin", r.Header.Get("Origin"),
			"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
		)
		http.Error(w, "cross-site request rejected", http.StatusForbidden)
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var p Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, b.cfg.MaxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		http.Error(w, "extra data after JSON object", http.StatusBadRequest)
		return
	}
	if !p.Event.Valid() {
		http.Error(w, "unknown event", http.StatusBadRequest)
		return
	}

	switch {
	case p.Event == client.EventSignedOut:
		b.ClearCookie(w)
	case p.Session == nil || strings.TrimSpace(p.Session.AccessToken) == "":
		http.Error(w, "session access_token required", http.StatusBadRequest)
		return
	default:
		b.WriteCookie(w, p.Session)
	}

	b.log.DebugContext(r.Context(), "bridge.cookie_synced", "event", string(p.Event))
	w.WriteHeader(http.StatusNoContent)
}

// sameOrigin rejects requests a browser marks as cross-site. Clients that
// send neither header, like the shell's HTTP client, pass.
func (b *Bridge) sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return false
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range b.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

// WriteCookie sets the session cookie to the access token, expiring with it.
// A session that already expired clears the cookie instead.
func (b *Bridge) WriteCookie(w http.ResponseWriter, sess *linkauth.Session) {
	expires := sess.Expiry()
	remaining := int(expires.Sub(b.now()) / time.Second)
	if remaining <= 0 {
		b.ClearCookie(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    sess.AccessToken,
		Path:     "/",
		Domain:   b.cfg.Domain,
		Expires:  expires,
		MaxAge:   remaining,
		HttpOnly: true,
		Secure:   b.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie deletes the session cookie.
func (b *Bridge) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   b.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the raw cookie value, or "".
func (b *Bridge) Token(r *http.Request) string {
	c, err := r.Cookie(b.cfg.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
