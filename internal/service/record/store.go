package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
	"github.com/josh-kwaku/supportdesk-payments/internal/notifier"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type PaymentRepository interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.PaymentRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	GetByIntentID(ctx context.Context, intentID string) (*domain.PaymentRecord, error)
	Update(ctx context.Context, tx *sql.Tx, p *domain.PaymentRecord) error
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRecord, error)
}

type EventRepository interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) error
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type ReferenceReleaser interface {
	Release(ctx context.Context, tx *sql.Tx, paymentID uuid.UUID, releaseAt time.Time) error
}

type InvoiceCreditor interface {
	Credit(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount int64) error
}

// Store is the single write path for payment records. Every mutation goes
// through a version compare-and-swap together with its audit entry.
type Store struct {
	db            Transactor
	payments      PaymentRepository
	events        EventRepository
	references    ReferenceReleaser
	invoices      InvoiceCreditor
	notifier      notifier.Notifier
	recycleWindow time.Duration
}

func NewStore(
	db Transactor,
	payments PaymentRepository,
	events EventRepository,
	references ReferenceReleaser,
	invoices InvoiceCreditor,
	n notifier.Notifier,
	recycleWindow time.Duration,
) *Store {
	return &Store{
		db:            db,
		payments:      payments,
		events:        events,
		references:    references,
		invoices:      invoices,
		notifier:      n,
		recycleWindow: recycleWindow,
	}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return p, nil
}

func (s *Store) GetByIntentID(ctx context.Context, intentID string) (*domain.PaymentRecord, error) {
	p, err := s.payments.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("GetByIntentID: %w", err)
	}
	return p, nil
}

func (s *Store) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRecord, error) {
	out, err := s.payments.ListExpirable(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ListExpirable: %w", err)
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, id uuid.UUID) ([]domain.PaymentEvent, error) {
	if _, err := s.payments.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	events, err := s.events.ListByPaymentID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return events, nil
}

// Create inserts a new record with its audit history. prepare runs first in
// the same transaction, so work it does (reference reservation) commits or
// rolls back with the record.
func (s *Store) Create(ctx context.Context, p *domain.PaymentRecord, history []*domain.PaymentEvent, prepare func(ctx context.Context, tx *sql.Tx) error) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if prepare != nil {
			if err := prepare(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.payments.Create(ctx, tx, p); err != nil {
			return err
		}
		for _, e := range history {
			if err := s.events.Create(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	logging.FromContext(ctx).Info("payment created",
		"payment_id", p.ID,
		"tenant_id", p.TenantID,
		"method", p.Method,
		"status", p.Status,
		"version", p.Version,
	)
	s.notify(ctx, domain.NewLifecycleEvent(p, domain.PaymentEventTypeCreated, domain.ActorSystem))
	return nil
}

// Change describes one persisted mutation.
type Change struct {
	From      domain.PaymentStatus
	Actor     string
	EventType domain.PaymentEventType
	Payload   json.RawMessage
}

// Save persists p, already mutated in memory, guarded by its previous
// version. Entering a terminal state releases the record's reference and an
// approval credits the invoice, all in one transaction.
func (s *Store) Save(ctx context.Context, p *domain.PaymentRecord, ch Change) error {
	eventType := ch.EventType
	if eventType == "" {
		eventType = domain.EventTypeForStatus(p.Status)
	}
	statusChanged := ch.From != p.Status
	var from *domain.PaymentStatus
	if statusChanged {
		f := ch.From
		from = &f
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.payments.Update(ctx, tx, p); err != nil {
			return err
		}
		if err := s.events.Create(ctx, tx, domain.NewPaymentEvent(p, eventType, from, ch.Actor, ch.Payload)); err != nil {
			return err
		}
		if !statusChanged || !p.Status.IsTerminal() {
			return nil
		}
		if p.Method.RequiresReference() {
			if err := s.references.Release(ctx, tx, p.ID, s.releaseAt(p)); err != nil {
				return err
			}
		}
		if p.Status == domain.PaymentStatusApproved {
			if err := s.invoices.Credit(ctx, tx, p.InvoiceID, p.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	log := logging.FromContext(ctx)
	if !statusChanged {
		log.Info("payment updated",
			"payment_id", p.ID,
			"event", eventType,
			"version", p.Version,
		)
		return nil
	}

	metrics.Transitions.WithLabelValues(string(p.Method), string(ch.From), string(p.Status)).Inc()
	log.Info("payment transitioned",
		"payment_id", p.ID,
		"from", ch.From,
		"to", p.Status,
		"version", p.Version,
		"actor", ch.Actor,
	)
	if p.Status.IsTerminal() {
		s.notify(ctx, domain.NewLifecycleEvent(p, eventType, ch.Actor))
	}
	return nil
}

// Expired records free their reference at once. Decided records hold it for
// the recycle window so a late payer cannot hit a reused number.
func (s *Store) releaseAt(p *domain.PaymentRecord) time.Time {
	if p.Status == domain.PaymentStatusExpired {
		return p.UpdatedAt
	}
	return p.UpdatedAt.Add(s.recycleWindow)
}

func (s *Store) notify(ctx context.Context, ev domain.LifecycleEvent) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("lifecycle notification failed",
			"payment_id", ev.PaymentID,
			"type", ev.Type,
			"error", err,
		)
	}
}
