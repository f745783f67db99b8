package authapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Provider is the engine surface served over HTTP. *linkauth.Engine
// implements it.
type Provider interface {
	SendMagicLink(ctx context.Context, email, redirectTo string) error
	VerifyLink(ctx context.Context, token string) (*linkauth.Session, error)
	GetUser(ctx context.Context, accessToken string) (*linkauth.User, error)
	UpdateUser(ctx context.Context, accessToken string, attrs linkauth.UserAttributes) (*linkauth.User, error)
	Refresh(ctx context.Context, refreshToken string) (*linkauth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	SignOutEverywhere(ctx context.Context, accessToken string) error
	ListSessions(ctx context.Context, accessToken string) ([]linkauth.SessionInfo, error)
	Health(ctx context.Context) linkauth.HealthStatus
	Config() linkauth.Config
}

// Config controls the HTTP surface.
type Config struct {
	// APIKey is the public key every /auth/v1 request must present.
	APIKey string
	// TrustProxy reads the client IP from X-Forwarded-For and X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64
	// Metrics, when set, is served at GET /metrics without the apikey check.
	Metrics http.Handler
}

// Handler serves the provider HTTP API.
type Handler struct {
	provider Provider
	cfg      Config
	log      *slog.Logger
}

// New validates cfg and returns a Handler for provider.
func New(provider Provider, cfg Config, log *slog.Logger) (*Handler, error) {
	if provider == nil {
		return nil, errors.New("authapi: nil provider")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("authapi: api key required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		provider: provider,
		cfg:      cfg,
		log:      logging.OrDiscard(log),
	}, nil
}

// Routes returns the full router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(h.log))
	r.Use(h.withClientIP)

	r.Get("/health", h.handleHealth)
	if h.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.Metrics)
	}

	r.Route("/auth/v1", func(r chi.Router) {
		// Opened from an email client, which cannot send headers.
		r.Get("/verify", h.handleVerifyLanding)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAPIKey)

			r.Post("/otp", h.handleOTP)
			r.Post("/verify", h.handleVerify)
			r.Get("/user", h.handleGetUser)
			r.Put("/user", h.handleUpdateUser)
			r.Post("/token", h.handleToken)
			r.Post("/logout", h.handleLogout)
			r.Get("/sessions", h.handleSessions)
		})
	})

	return r
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	want := []byte(h.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("apikey")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, CodeInvalidAPIKey, "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
			r = r.WithContext(linkauth.WithClientIP(r.Context(), ip.String()))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "authapi."+op+".fail", "err", err, "request_id", middleware.GetReqID(r.Context()))
	}
	writeError(w, status, code, msg)
}

type otpRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (h *Handler) handleOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	if err := h.provider.SendMagicLink(r.Context(), req.Email, req.RedirectTo); err != nil {
		h.fail(w, r, "otp", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type verifyRequest struct {
	Token string `json:"token"`
	Type  string `json:"type,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "token is required")
		return
	}
	if req.Type != "" && req.Type != "magiclink" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unsupported type")
		return
	}

	sess, err := h.provider.VerifyLink(r.Context(), req.Token)
	if err != nil {
		h.fail(w, r, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleVerifyLanding forwards the link token to the application, which
// redeems it with POST /auth/v1/verify. Nothing is consumed here, so mail
// scanners that prefetch links do not burn them.
func (h *Handler) handleVerifyLanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "token is required")
		return
	}

	target := linkauth.ResolveRedirect(h.provider.Config().MagicLink, q.Get("redirect_to"))
	u, err := url.Parse(target)
	if err != nil {
		h.fail(w, r, "verify_landing", err)
		return
	}
	tq := u.Query()
	tq.Set("token", token)
	u.RawQuery = tq.Encode()

	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}

	user, err := h.provider.GetUser(r.Context(), token)
	if err != nil {
		h.fail(w, r, "user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}

	var attrs linkauth.UserAttributes
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &attrs); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	user, err := h.provider.UpdateUser(r.Context(), token, attrs)
	if err != nil {
		h.fail(w, r, "update_user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "refresh_token" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unsupported grant_type")
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "refresh_token is required")
		return
	}

	sess, err := h.provider.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}

	var err error
	switch r.URL.Query().Get("scope") {
	case "", "local":
		err = h.provider.SignOut(r.Context(), token)
	case "global":
		err = h.provider.SignOutEverywhere(r.Context(), token)
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unsupported scope")
		return
	}
	if err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}

	sessions, err := h.provider.ListSessions(r.Context(), token)
	if err != nil {
		h.fail(w, r, "sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := h.provider.Health(ctx)
	body := map[string]any{
		"redis":            status.RedisAvailable,
		"redis_latency_ms": status.RedisLatency.Milliseconds(),
	}
	if !status.RedisAvailable {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func requireBearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "missing bearer token")
		return "", false
	}
	return token, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP takes the left-most valid entry.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip
		}
	}
	return nil
}
