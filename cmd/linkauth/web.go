package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/MrEthical07/linkauth/bridge"
	"github.com/MrEthical07/linkauth/client"
	"github.com/MrEthical07/linkauth/config"
	"github.com/MrEthical07/linkauth/internal/logging"
	"github.com/MrEthical07/linkauth/internal/server"
	"github.com/MrEthical07/linkauth/web"
	"github.com/spf13/cobra"
)

func webCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the web application",
		Long: `Serve the web application on LINKAUTH_APP_ADDR.

LINKAUTH_URL and LINKAUTH_ANON_KEY are required and point at the provider.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadApp()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runWeb(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LINKAUTH_APP_ADDR)")
	return cmd
}

func runWeb(ctx context.Context, cfg config.App) error {
	log := logging.New(cfg.LogLevel, os.Stderr)

	app, err := web.New(webConfig(cfg, log))
	if err != nil {
		return err
	}
	defer app.Close()

	return server.Run(ctx, cfg.Addr, app.Routes(), log)
}

func webConfig(cfg config.App, log *slog.Logger) web.Config {
	return web.Config{
		Client: client.Config{URL: cfg.URL, APIKey: cfg.AnonKey, Logger: log},
		Bridge: bridge.Config{
			CookieName: cfg.CookieName,
			Domain:     cfg.CookieDomain,
			Secure:     cfg.CookieSecure,
		},
		CallbackURL: cfg.CallbackURL,
		TrustProxy:  cfg.TrustProxy,
		Logger:      log,
	}
}
