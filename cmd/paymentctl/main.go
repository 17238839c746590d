// Command paymentctl runs one-off operator tasks against the payments
// database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/supportdesk-payments/internal/app"
	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tooling for the payment reconciliation engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(retryWebhooksCmd())
	root.AddCommand(gcProofsCmd())
	root.AddCommand(gcIdempotencyCmd())
	root.AddCommand(tokenCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp loads config, builds the engine and hands it to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), "paymentctl", cfg.LogLevel, cfg.AppEnv)
	ctx := logging.WithLogger(cmd.Context(), logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
