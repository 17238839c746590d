package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/supportdesk-payments/internal/app"
	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				applied, err := repository.Migrate(ctx, a.DB, migrations.FS)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every overdue payment once",
		Long: `Run a single expiry pass. Overdue created, pending and processing
payments become expired (card payments fail) and their references are
released. The pass takes the same lease as the API's background sweeper, so it
does nothing while another sweep holds it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d payments\n", n)
				return nil
			})
		},
	}
}

func retryWebhooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-webhooks",
		Short: "Reapply card webhook events still pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				failing := a.Retry.Poll(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "%d events still pending\n", failing)
				return nil
			})
		},
	}
}

func gcProofsCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "gc-proofs",
		Short: "Delete stored proofs no payment references",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if olderThan <= 0 {
					olderThan = a.Config.ProofOrphanAge
				}
				n, err := a.Proofs.CollectOrphans(ctx, a.Payments.HasProofHandle, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d files\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only consider files older than this (default PROOF_ORPHAN_AGE)")
	return cmd
}

func gcIdempotencyCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "gc-idempotency",
		Short: "Purge expired idempotency entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batch < 1 {
				return fmt.Errorf("--batch must be at least 1, got %d", batch)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cutoff := time.Now().UTC()
				var total int64
				for {
					n, err := a.Idempotency.Purge(ctx, cutoff, batch)
					if err != nil {
						return err
					}
					total += n
					if n < int64(batch) {
						break
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 1000, "rows deleted per statement")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID   string
		tenantID string
		role     string
		ttl      time.Duration
		secret   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token",
		Example: `  paymentctl token --user 8d3c... --tenant 1f0a... --role admin
  paymentctl token --tenant 1f0a... --ttl 15m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			claims := auth.Claims{Role: auth.Role(role)}
			if claims.Role != auth.RoleAdmin && claims.Role != auth.RoleCustomer {
				return fmt.Errorf("role must be %q or %q", auth.RoleAdmin, auth.RoleCustomer)
			}

			var err error
			if userID == "" {
				claims.UserID = uuid.New()
			} else if claims.UserID, err = uuid.Parse(userID); err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			if claims.TenantID, err = uuid.Parse(tenantID); err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}

			token, err := auth.GenerateToken(claims, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleCustomer), "admin or customer")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default JWT_SECRET)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
