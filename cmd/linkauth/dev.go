package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/MrEthical07/linkauth"
	"github.com/MrEthical07/linkauth/config"
	"github.com/MrEthical07/linkauth/internal/logging"
	"github.com/MrEthical07/linkauth/internal/server"
	"github.com/MrEthical07/linkauth/mail"
	"github.com/MrEthical07/linkauth/users"
	"github.com/MrEthical07/linkauth/web"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const devAnonKey = "dev-anon-key"

func devCmd() *cobra.Command {
	var (
		appAddr      string
		providerAddr string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run provider and web application in one process",
		Long: `Run the provider and the web application together with an in-process
Redis and in-memory users. Magic links are printed to the log; open one
to sign in. Nothing survives a restart.

Example:
  linkauth dev --addr 127.0.0.1:3000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDev(cmd.Context(), appAddr, providerAddr, logLevel)
		},
	}
	cmd.Flags().StringVar(&appAddr, "addr", "127.0.0.1:3000", "web application listen address")
	cmd.Flags().StringVar(&providerAddr, "provider-addr", "127.0.0.1:9999", "provider listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "debug", "debug, info, warn or error")
	return cmd
}

func runDev(ctx context.Context, appAddr, providerAddr, logLevel string) error {
	log := logging.New(logLevel, os.Stderr)

	mr, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("start miniredis: %w", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	providerLn, err := net.Listen("tcp", providerAddr)
	if err != nil {
		return err
	}
	defer providerLn.Close()
	appLn, err := net.Listen("tcp", appAddr)
	if err != nil {
		return err
	}
	defer appLn.Close()
	providerURL := "http://" + providerLn.Addr().String()
	appURL := "http://" + appLn.Addr().String()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	engineCfg, err := config.Provider{
		JWTSecret:        hex.EncodeToString(secret),
		SiteURL:          providerURL,
		DefaultRedirect:  appURL + "/auth/callback",
		AllowedRedirects: []string{appURL + "/"},
		LinkTTL:          linkauth.DefaultConfig().MagicLink.TTL,
		AccessTTL:        linkauth.DefaultConfig().JWT.AccessTTL,
		SessionLifetime:  linkauth.DefaultConfig().Session.Lifetime,
	}.EngineConfig()
	if err != nil {
		return err
	}

	providerHandler, closeProvider, err := newProvider(engineCfg, providerDeps{
		redis:      rdb,
		directory:  users.NewMemory(),
		mailer:     mail.NewLogMailer(log),
		apiKey:     devAnonKey,
		trustProxy: true, // the app forwards each browser's IP
		log:        log.With("component", "provider"),
	})
	if err != nil {
		return err
	}
	defer closeProvider()

	app, err := web.New(webConfig(config.App{
		URL:         providerURL,
		AnonKey:     devAnonKey,
		CallbackURL: appURL + "/auth/callback",
		CookieName:  "linkauth-access-token",
	}, log.With("component", "web")))
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("dev.ready", "app", appURL, "provider", providerURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, providerLn, providerHandler, log.With("component", "provider"))
	})
	g.Go(func() error {
		return server.Serve(gctx, appLn, app.Routes(), log.With("component", "web"))
	})
	return g.Wait()
}
