package linkauth

import (
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/linkauth/internal/audit"
	"github.com/MrEthical07/linkauth/internal/limiters"
	"github.com/MrEthical07/linkauth/internal/stores"
	"github.com/MrEthical07/linkauth/jwt"
	"github.com/MrEthical07/linkauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserDirectory
	mailer    Mailer
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, links, and rate limits.
// Both *redis.Client and *redis.ClusterClient are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserDirectory sets where users are stored.
func (b *Builder) WithUserDirectory(users UserDirectory) *Builder {
	b.users = users
	return b
}

// WithMailer sets how magic links are delivered.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the audit destination. Without one, events are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Without one, logs are discarded.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user directory required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	engine := &Engine{now: time.Now}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Clock:         func() time.Time { return engine.now() },
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	*engine = Engine{
		config:       cfg,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		linkStore:    stores.NewMagicLinkStore(b.redis, cfg.MagicLink.RedisPrefix),
		limiter: limiters.NewSignInLimiter(b.redis, limiters.SignInConfig{
			EnableEmailThrottle: cfg.RateLimit.EnableEmailThrottle,
			EnableIPThrottle:    cfg.RateLimit.EnableIPThrottle,
			MaxRequests:         cfg.RateLimit.MaxRequests,
			MaxVerifyAttempts:   cfg.RateLimit.MaxVerifyAttempts,
			Window:              cfg.RateLimit.Window,
		}),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		jwtManager: jm,
		users:      b.users,
		mailer:     b.mailer,
		logger:     logger,
		now:        time.Now,
	}

	b.built = true

	return engine, nil
}
