package linkauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config controls every tunable of the engine. Start from [DefaultConfig]
// and override fields; [Builder.Build] validates the result.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	MagicLink      MagicLinkConfig
	RateLimit      RateLimitConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access token signing. For "hs256" PrivateKey is the
// shared key; [DeriveSigningKey] derives one from a master secret.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side sessions. Lifetime is absolute: refresh
// never extends it.
type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
}

/*
====================================
MAGIC LINK CONFIG
====================================
*/

// MagicLinkConfig controls link issuance.
//
// SiteURL is the public base URL of the provider API; links point at
// SiteURL/auth/v1/verify. A redirect_to is honoured only when it starts with
// one of AllowedRedirects, otherwise DefaultRedirect is used.
type MagicLinkConfig struct {
	TTL              time.Duration
	SiteURL          string
	DefaultRedirect  string
	AllowedRedirects []string
	AutoCreateUsers  bool
	RedisPrefix      string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds link requests per email and per IP, and link
// redemptions per IP, within a fixed window.
type RateLimitConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	MaxVerifyAttempts   int
	Window              time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ValidationMode selects how access tokens are checked.
type ValidationMode int

const (
	// ModeStrict checks the Redis session on every validation, so sign-out
	// takes effect immediately.
	ModeStrict ValidationMode = iota
	// ModeJWTOnly trusts the signature and expiry alone.
	ModeJWTOnly
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "hs256",
			Issuer:        "linkauth",
			Leeway:        5 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			Lifetime:    7 * 24 * time.Hour,
		},
		MagicLink: MagicLinkConfig{
			TTL:             15 * time.Minute,
			SiteURL:         "http://localhost:9999",
			DefaultRedirect: "http://localhost:3000/auth/callback",
			AutoCreateUsers: true,
			RedisPrefix:     "aml",
		},
		RateLimit: RateLimitConfig{
			EnableEmailThrottle: true,
			EnableIPThrottle:    true,
			MaxRequests:         5,
			MaxVerifyAttempts:   20,
			Window:              15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.MagicLink.AllowedRedirects != nil {
		out.MagicLink.AllowedRedirects = append([]string(nil), cfg.MagicLink.AllowedRedirects...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.Lifetime < c.JWT.AccessTTL {
		return errors.New("Session Lifetime must be >= JWT AccessTTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	// Magic link
	if c.MagicLink.TTL <= 0 {
		return errors.New("MagicLink TTL must be > 0")
	}
	if c.MagicLink.TTL > 24*time.Hour {
		return errors.New("MagicLink TTL must be <= 24h")
	}
	if err := validateAbsoluteURL(c.MagicLink.SiteURL); err != nil {
		return errors.New("MagicLink SiteURL " + err.Error())
	}
	if err := validateAbsoluteURL(c.MagicLink.DefaultRedirect); err != nil {
		return errors.New("MagicLink DefaultRedirect " + err.Error())
	}
	for _, prefix := range c.MagicLink.AllowedRedirects {
		if err := validateAbsoluteURL(prefix); err != nil {
			return errors.New("MagicLink AllowedRedirects entry " + err.Error())
		}
	}
	if strings.TrimSpace(c.MagicLink.RedisPrefix) == "" || c.MagicLink.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("MagicLink RedisPrefix must be set and differ from Session RedisPrefix")
	}

	// Rate limits
	if c.RateLimit.EnableEmailThrottle || c.RateLimit.EnableIPThrottle {
		if c.RateLimit.MaxRequests <= 0 {
			return errors.New("RateLimit MaxRequests must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}
	if c.RateLimit.EnableIPThrottle && c.RateLimit.MaxVerifyAttempts <= 0 {
		return errors.New("RateLimit MaxVerifyAttempts must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.ValidationMode != ModeStrict && c.ValidationMode != ModeJWTOnly {
		return errors.New("invalid ValidationMode")
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}
