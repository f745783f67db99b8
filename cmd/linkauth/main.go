// Command linkauth runs the magic-link auth provider, the web application,
// or both in one process for local development.
//
//	linkauth provider   serve the provider API (Redis, optional Postgres)
//	linkauth web        serve the web application
//	linkauth dev        provider and app in one process, in-memory storage
//	linkauth loadtest   exercise the session store under concurrency
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "linkauth",
		Short: "Passwordless magic-link sign-in",
		Long: `linkauth signs users in with a link sent to their email.

The provider issues links and sessions. The web application keeps a
server-readable cookie in step with the session in the browser tab and
gates pages on it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		providerCmd(),
		webCmd(),
		devCmd(),
		loadtestCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
