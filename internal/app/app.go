// Package app wires the payment engine's components from configuration. The
// API server and the operator CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/lease"
	"github.com/josh-kwaku/supportdesk-payments/internal/notifier"
	"github.com/josh-kwaku/supportdesk-payments/internal/proof"
	"github.com/josh-kwaku/supportdesk-payments/internal/reference"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/approval"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/card"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/payment"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/sweeper"
)

const sweepLeaseName = "expiry-sweeper"

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sql.DB
	Redis  redis.UniversalClient

	Payments    *repository.PaymentRepository
	Webhooks    *repository.WebhookEventRepository
	Idempotency *repository.IdempotencyRepository

	Proofs    *proof.Store
	Records   *record.Store
	Router    *payment.Service
	Approvals *approval.Service
	Confirmer *card.Confirmer
	Retry     *card.RetryWorker
	Sweeper   *sweeper.Sweeper

	kafka *kafka.Writer
}

// Build opens the database and constructs every service. Close releases what
// Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	rails, err := config.LoadRails(cfg.RailsFile)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	proofs, err := proof.NewStore(cfg.ProofStorageDir, cfg.ProofMaxBytes)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Proofs = proofs

	a.Payments = repository.NewPaymentRepository(db)
	a.Webhooks = repository.NewWebhookEventRepository(db)
	a.Idempotency = repository.NewIdempotencyRepository(db)
	references := repository.NewReferenceRepository(db)
	invoices := repository.NewInvoiceRepository(db)

	a.Records = record.NewStore(
		repository.NewDB(db),
		a.Payments,
		repository.NewPaymentEventRepository(db),
		references,
		invoices,
		a.notifier(logger),
		cfg.ReferenceRecycleWindow,
	)

	allocator := reference.NewAllocator(references, map[domain.Method]string{
		domain.MethodMobileMoney:      rails.MobileMoney.Entity,
		domain.MethodPaymentReference: rails.PaymentReference.Entity,
	}, cfg.ReferenceMaxAttempts)

	gateway := card.NewGatewayClient(cfg.CardGatewayURL, cfg.CardGatewayAPIKey, cfg.CardReturnURL, cfg.CardGatewayTimeout)
	a.Confirmer = card.NewConfirmer(a.Records, a.Webhooks, gateway, cfg.WebhookSecret)
	a.Retry = card.NewRetryWorker(a.Webhooks, a.Confirmer, logger, cfg.WebhookRetryInterval, cfg.WebhookRetryGrace, cfg.WebhookMaxAttempts)

	a.Router = payment.NewService(a.Records, invoices, allocator, proofs, a.Confirmer, rails, payment.TTLs{
		MobileMoney:          cfg.MobileMoneyTTL,
		BankTransferDays:     cfg.BankTransferTTLBusinessDays,
		PaymentReferenceDays: cfg.PaymentReferenceTTLBusinessDays,
		CardChallengeGrace:   cfg.CardChallengeGrace,
	}, domain.Currency(cfg.Currency))
	a.Approvals = approval.NewService(a.Records)

	var sweepLease lease.Lease = lease.Local{}
	if cfg.RedisAddr != "" {
		a.Redis = lease.NewRedisClient(cfg.RedisAddr)
		sweepLease = lease.NewRedisLease(a.Redis, sweepLeaseName)
	}
	a.Sweeper = sweeper.New(a.Records, sweepLease, logger, sweeper.Config{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
	})

	return a, nil
}

func (a *App) notifier(logger *slog.Logger) notifier.Notifier {
	sinks := []notifier.Notifier{notifier.NewLogNotifier(logger)}
	if a.Config.TeamsWebhookURL != "" {
		sinks = append(sinks, notifier.NewTeamsNotifier(a.Config.TeamsWebhookURL))
	}
	if len(a.Config.KafkaBrokers) > 0 {
		a.kafka = notifier.NewKafkaWriter(a.Config.KafkaBrokers, a.Config.KafkaTopic, logger)
		sinks = append(sinks, notifier.NewKafkaNotifier(a.kafka))
	}
	return notifier.NewMulti(sinks...)
}

// Ping checks the database and, when configured, Redis.
func (a *App) Ping(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
