package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/authapi"
	"github.com/MrEthical07/linkauth/config"
	"github.com/MrEthical07/linkauth/internal/audit"
	"github.com/MrEthical07/linkauth/internal/logging"
	"github.com/MrEthical07/linkauth/internal/server"
	"github.com/MrEthical07/linkauth/mail"
	otelexport "github.com/MrEthical07/linkauth/metrics/export/otel"
	promexport "github.com/MrEthical07/linkauth/metrics/export/prometheus"
	"github.com/MrEthical07/linkauth/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

func providerCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Serve the auth provider API",
		Long: `Serve the provider API on LINKAUTH_PROVIDER_ADDR.

Sessions, magic links and rate limits live in Redis (LINKAUTH_REDIS_URL).
Users live in Postgres when LINKAUTH_DATABASE_URL is set, in memory otherwise.
Magic links are written to the log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadProvider()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runProvider(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LINKAUTH_PROVIDER_ADDR)")
	return cmd
}

func runProvider(ctx context.Context, cfg config.Provider) error {
	log := logging.New(cfg.LogLevel, os.Stderr)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("LINKAUTH_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	dir, closeDir, err := openDirectory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDir()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	handler, closeProvider, err := newProvider(engineCfg, providerDeps{
		redis:      rdb,
		directory:  dir,
		mailer:     mail.NewLogMailer(log),
		apiKey:     cfg.AnonKey,
		trustProxy: cfg.TrustProxy,
		log:        log,
	})
	if err != nil {
		return err
	}
	defer closeProvider()

	return server.Run(ctx, cfg.Addr, handler, log)
}

func openDirectory(ctx context.Context, cfg config.Provider, log *slog.Logger) (linkauth.UserDirectory, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("users.memory", "reason", "LINKAUTH_DATABASE_URL not set, users are lost on restart")
		return users.NewMemory(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("LINKAUTH_DATABASE_URL: %w", err)
	}
	pg, err := users.NewPostgres(pool, users.WithSchema(cfg.DatabaseSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure users schema: %w", err)
	}
	log.Info("users.postgres", "schema", cfg.DatabaseSchema)
	return pg, pool.Close, nil
}

type providerDeps struct {
	redis      redis.UniversalClient
	directory  linkauth.UserDirectory
	mailer     linkauth.Mailer
	apiKey     string
	trustProxy bool
	log        *slog.Logger
}

// newProvider builds the engine and its HTTP API, with Prometheus metrics on
// /metrics and the same counters on the global OpenTelemetry meter.
func newProvider(cfg linkauth.Config, deps providerDeps) (http.Handler, func(), error) {
	engine, err := linkauth.New().
		WithConfig(cfg).
		WithRedis(deps.redis).
		WithUserDirectory(deps.directory).
		WithMailer(deps.mailer).
		WithAuditSink(audit.NewSlogSink(deps.log)).
		WithLogger(deps.log).
		Build()
	if err != nil {
		return nil, nil, err
	}

	metrics, err := promexport.Handler(engine)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	otelExp, err := otelexport.NewExporter(otel.Meter("github.com/MrEthical07/linkauth"), engine)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	api, err := authapi.New(engine, authapi.Config{
		APIKey:     deps.apiKey,
		TrustProxy: deps.trustProxy,
		Metrics:    metrics,
	}, deps.log)
	if err != nil {
		_ = otelExp.Close()
		engine.Close()
		return nil, nil, err
	}

	closeFn := func() {
		_ = otelExp.Close()
		engine.Close()
	}
	return api.Routes(), closeFn, nil
}
