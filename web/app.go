// Package web is the server-rendered application that signs users in with a
// magic link and gates pages on the session cookie.
//
// Routes:
//
//	GET  /               landing page
//	GET  /sign-in        email form
//	POST /sign-in        request a magic link
//	GET  /profile        profile, redirects in the page when signed out
//	GET  /protected      profile, redirected by the server when signed out
//	POST /api/auth       cookie bridge write path
//	GET  /auth/callback  redeem a magic link and set the cookie
//	POST /sign-out       revoke the session and clear the cookie
package web

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/bridge"
	"github.com/MrEthical07/linkauth/client"
	"github.com/MrEthical07/linkauth/internal/logging"
	"github.com/MrEthical07/linkauth/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

const (
	signInPath   = "/sign-in"
	profilePath  = "/profile"
	callbackPath = "/auth/callback"
)

// Config configures the application.
type Config struct {
	// Client configures the provider SDK. Each magic link callback redeems
	// its token on a fresh Client, the way a browser tab would.
	Client client.Config
	Bridge bridge.Config
	// CallbackURL is the absolute redirect_to sent with sign-in requests.
	// When empty it is derived from the request host.
	CallbackURL string
	// TrustProxy takes the browser IP from X-Forwarded-For or X-Real-IP
	// when the app runs behind a reverse proxy.
	TrustProxy bool
	Logger     *slog.Logger
}

// App serves the pages, the cookie bridge and the magic-link callback.
type App struct {
	cfg    Config
	api    *client.Client
	bridge *bridge.Bridge
	log    *slog.Logger
}

// New builds the app. The shared Client never holds a session; it sends
// magic links, verifies cookies and revokes sessions.
func New(cfg Config) (*App, error) {
	log := logging.OrDiscard(cfg.Logger)
	if cfg.Client.Logger == nil {
		cfg.Client.Logger = log
	}
	api, err := client.New(cfg.Client)
	if err != nil {
		return nil, err
	}
	b, err := bridge.New(api, cfg.Bridge, log)
	if err != nil {
		api.Close()
		return nil, err
	}
	return &App{cfg: cfg, api: api, bridge: b, log: log}, nil
}

// Close stops the shared Client.
func (a *App) Close() {
	a.api.Close()
}

// Bridge returns the cookie bridge used by the app.
func (a *App) Bridge() *bridge.Bridge {
	return a.bridge
}

// Routes returns the application router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if a.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(logging.RequestLogger(a.log))
	r.Use(forwardClientIP)

	r.Get("/", a.handleHome)
	r.Get(signInPath, a.handleSignInForm)
	r.Post(signInPath, a.handleSignIn)
	r.Get(profilePath, a.handleProfile)
	r.With(middleware.RequireSession(a.bridge, signInPath)).Get("/protected", a.handleProtected)
	r.Method(http.MethodPost, "/api/auth", a.bridge)
	r.Get(callbackPath, a.handleCallback)
	r.Post("/sign-out", a.handleSignOut)

	return r
}

type page struct {
	Title      string
	RedirectTo string
	User       *linkauth.User
	Email      string
	Error      string
	Sent       bool
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, name string, data page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		a.log.ErrorContext(r.Context(), "web.render.fail", "template", name, "err", err)
	}
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "home.html", page{Title: "Home"})
}

func (a *App) handleSignInForm(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "sign_in.html", page{Title: "Sign in"})
}

func (a *App) handleSignIn(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		a.render(w, r, http.StatusBadRequest, "sign_in.html", page{Title: "Sign in", Error: "Enter your email address."})
		return
	}

	err := a.api.SignIn(r.Context(), email, client.WithRedirectTo(a.callbackURL(r)))
	if err != nil {
		a.log.ErrorContext(r.Context(), "signin.failed", "err", err, "request_id", chimw.GetReqID(r.Context()))
		a.render(w, r, http.StatusBadRequest, "sign_in.html", page{
			Title: "Sign in",
			Email: email,
			Error: signInMessage(err),
		})
		return
	}

	a.render(w, r, http.StatusOK, "sign_in.html", page{Title: "Check your email", Email: email, Sent: true})
}

func signInMessage(err error) string {
	switch {
	case errors.Is(err, linkauth.ErrInvalidEmail):
		return "That email address does not look right."
	case errors.Is(err, linkauth.ErrSignInRateLimited):
		return "Too many requests. Try again in a few minutes."
	default:
		return "We could not send a sign-in link. Try again."
	}
}

// handleProfile always answers 200. Without a user the page redirects
// itself, so its shell may render before the redirect.
func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := a.bridge.User(r)
	if user == nil {
		a.render(w, r, http.StatusOK, "profile.html", page{Title: "Profile", RedirectTo: signInPath})
		return
	}
	a.render(w, r, http.StatusOK, "profile.html", page{Title: "Profile", User: user})
}

func (a *App) handleProtected(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	a.render(w, r, http.StatusOK, "protected.html", page{Title: "Protected", User: user})
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Redirect(w, r, signInPath, http.StatusSeeOther)
		return
	}

	tab, err := client.New(a.cfg.Client)
	if err != nil {
		a.log.ErrorContext(r.Context(), "web.callback.client_fail", "err", err)
		http.Redirect(w, r, signInPath, http.StatusSeeOther)
		return
	}
	defer tab.Close()

	sess, err := tab.VerifyLink(r.Context(), token)
	if err != nil {
		a.log.WarnContext(r.Context(), "web.callback.verify_fail", "err", err, "request_id", chimw.GetReqID(r.Context()))
		http.Redirect(w, r, signInPath, http.StatusSeeOther)
		return
	}

	a.bridge.WriteCookie(w, sess)
	http.Redirect(w, r, profilePath, http.StatusSeeOther)
}

// handleSignOut revokes the cookie's session on a best-effort basis; the
// cookie is cleared either way.
func (a *App) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := a.bridge.Token(r); token != "" {
		if err := a.api.Revoke(r.Context(), token); err != nil {
			a.log.WarnContext(r.Context(), "web.signout.revoke_fail", "err", err)
		}
	}
	a.bridge.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// forwardClientIP tags the request context so provider calls carry the
// browser IP. Without it every visitor shares the app server's rate limit.
func forwardClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := remoteIP(r.RemoteAddr); ip != "" {
			r = r.WithContext(client.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

// remoteIP accepts both host:port and the bare IP chi's RealIP leaves behind.
func remoteIP(addr string) string {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

func (a *App) callbackURL(r *http.Request) string {
	if a.cfg.CallbackURL != "" {
		return a.cfg.CallbackURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + callbackPath
}
