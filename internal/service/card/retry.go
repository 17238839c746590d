package card

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

type pendingWebhooks interface {
	GetPending(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error)
}

type processor interface {
	Process(ctx context.Context, event domain.WebhookEvent) error
}

// RetryWorker re-applies stored gateway events whose first attempt did not
// complete, until they succeed or run out of attempts.
type RetryWorker struct {
	webhooks    pendingWebhooks
	confirmer   processor
	logger      *slog.Logger
	interval    time.Duration
	grace       time.Duration
	maxAttempts int
	batch       int
}

func NewRetryWorker(webhooks pendingWebhooks, confirmer processor, logger *slog.Logger, interval, grace time.Duration, maxAttempts int) *RetryWorker {
	return &RetryWorker{
		webhooks:    webhooks,
		confirmer:   confirmer,
		logger:      logger,
		interval:    interval,
		grace:       grace,
		maxAttempts: maxAttempts,
		batch:       20,
	}
}

func (w *RetryWorker) Start(ctx context.Context) {
	w.logger.Info("webhook retry worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook retry worker stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll retries one batch and returns how many events are still pending.
func (w *RetryWorker) Poll(ctx context.Context) int {
	ctx = logging.WithLogger(ctx, w.logger)
	cutoff := time.Now().UTC().Add(-w.grace)

	events, err := w.webhooks.GetPending(ctx, cutoff, w.maxAttempts, w.batch)
	if err != nil {
		w.logger.Error("failed to fetch pending webhook events", "error", err)
		return 0
	}

	remaining := 0
	for _, event := range events {
		if err := w.confirmer.Process(ctx, event); err != nil {
			remaining++
			level := slog.LevelWarn
			if event.Attempts+1 >= w.maxAttempts {
				level = slog.LevelError
			}
			w.logger.Log(ctx, level, "webhook event retry failed",
				"webhook_event_id", event.ID,
				"attempts", event.Attempts+1,
				"error", err,
			)
		}
	}
	return remaining
}
