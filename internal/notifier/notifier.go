package notifier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
)

// Notifier delivers lifecycle events outside the engine. Delivery is best
// effort: callers log failures and never roll back on them.
type Notifier interface {
	Notify(ctx context.Context, ev domain.LifecycleEvent) error
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, ev domain.LifecycleEvent) error {
	n.logger.Info("payment lifecycle event",
		"type", ev.Type,
		"payment_id", ev.PaymentID,
		"tenant_id", ev.TenantID,
		"invoice_id", ev.InvoiceID,
		"method", ev.Method,
		"status", ev.Status,
		"amount", ev.Amount,
		"currency", ev.Currency,
	)
	return nil
}

type named interface {
	Notifier
	Name() string
}

// Multi fans an event out to every sink and joins their errors.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Notify(ctx context.Context, ev domain.LifecycleEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			name := "unknown"
			if n, ok := s.(named); ok {
				name = n.Name()
			}
			metrics.NotifyFailures.WithLabelValues(name).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, domain.LifecycleEvent) error { return nil }
