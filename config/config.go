// Package config loads process configuration from the environment.
//
// Both processes fail at startup, before any listener opens, when a required
// variable is missing or empty.
package config

import (
	"fmt"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/caarlos0/env/v11"
)

// App configures the web application.
type App struct {
	// URL is the provider API base URL.
	URL string `env:"LINKAUTH_URL,required,notEmpty"`
	// AnonKey is the provider's public API key.
	AnonKey string `env:"LINKAUTH_ANON_KEY,required,notEmpty"`

	Addr         string `env:"LINKAUTH_APP_ADDR"      envDefault:":3000"`
	CallbackURL  string `env:"LINKAUTH_CALLBACK_URL"`
	CookieName   string `env:"LINKAUTH_COOKIE_NAME"   envDefault:"linkauth-access-token"`
	CookieDomain string `env:"LINKAUTH_COOKIE_DOMAIN"`
	CookieSecure bool   `env:"LINKAUTH_COOKIE_SECURE" envDefault:"false"`
	// TrustProxy reads the browser IP from proxy headers.
	TrustProxy bool   `env:"LINKAUTH_APP_TRUST_PROXY" envDefault:"false"`
	LogLevel   string `env:"LINKAUTH_LOG_LEVEL"       envDefault:"info"`
}

// Provider configures the auth provider.
type Provider struct {
	AnonKey string `env:"LINKAUTH_ANON_KEY,required,notEmpty"`
	// JWTSecret is the master secret the HS256 signing key is derived from.
	JWTSecret string `env:"LINKAUTH_JWT_SECRET,required,notEmpty"`

	Addr             string        `env:"LINKAUTH_PROVIDER_ADDR"    envDefault:":9999"`
	SiteURL          string        `env:"LINKAUTH_SITE_URL"         envDefault:"http://localhost:9999"`
	DefaultRedirect  string        `env:"LINKAUTH_DEFAULT_REDIRECT" envDefault:"http://localhost:3000/auth/callback"`
	AllowedRedirects []string      `env:"LINKAUTH_ALLOWED_REDIRECTS" envSeparator:","`
	RedisURL         string        `env:"LINKAUTH_REDIS_URL"        envDefault:"redis://localhost:6379/0"`
	DatabaseURL      string        `env:"LINKAUTH_DATABASE_URL"`
	DatabaseSchema   string        `env:"LINKAUTH_DATABASE_SCHEMA"  envDefault:"linkauth"`
	LinkTTL          time.Duration `env:"LINKAUTH_LINK_TTL"         envDefault:"15m"`
	AccessTTL        time.Duration `env:"LINKAUTH_ACCESS_TTL"       envDefault:"1h"`
	SessionLifetime  time.Duration `env:"LINKAUTH_SESSION_LIFETIME" envDefault:"168h"`
	JWTOnly          bool          `env:"LINKAUTH_JWT_ONLY"         envDefault:"false"`
	// TrustProxy honours X-Forwarded-For. Set it when the web app sits in
	// front of the provider, or per-IP limits count the app server only.
	TrustProxy bool   `env:"LINKAUTH_TRUST_PROXY"      envDefault:"false"`
	LogLevel   string `env:"LINKAUTH_LOG_LEVEL"        envDefault:"info"`
}

// LoadApp parses App from the environment.
func LoadApp() (App, error) {
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadProvider parses Provider from the environment.
func LoadProvider() (Provider, error) {
	var cfg Provider
	if err := env.Parse(&cfg); err != nil {
		return Provider{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// EngineConfig maps the environment onto engine defaults. The result still
// goes through Builder validation.
func (p Provider) EngineConfig() (linkauth.Config, error) {
	key, err := linkauth.DeriveSigningKey([]byte(p.JWTSecret))
	if err != nil {
		return linkauth.Config{}, fmt.Errorf("LINKAUTH_JWT_SECRET: %w", err)
	}

	cfg := linkauth.DefaultConfig()
	cfg.JWT.PrivateKey = key
	cfg.JWT.AccessTTL = p.AccessTTL
	cfg.Session.Lifetime = p.SessionLifetime
	cfg.MagicLink.TTL = p.LinkTTL
	cfg.MagicLink.SiteURL = p.SiteURL
	cfg.MagicLink.DefaultRedirect = p.DefaultRedirect
	cfg.MagicLink.AllowedRedirects = append([]string(nil), p.AllowedRedirects...)
	if p.JWTOnly {
		cfg.ValidationMode = linkauth.ModeJWTOnly
	}
	return cfg, nil
}
