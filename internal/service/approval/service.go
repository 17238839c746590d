package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
)

type recordStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	Save(ctx context.Context, p *domain.PaymentRecord, ch record.Change) error
	History(ctx context.Context, id uuid.UUID) ([]domain.PaymentEvent, error)
}

// Service handles the human side of the reconciliation flow: customers
// confirming they paid and admins approving or rejecting the result.
type Service struct {
	records recordStore
	now     func() time.Time
}

func NewService(records recordStore) *Service {
	return &Service{
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type DecideRequest struct {
	PaymentID uuid.UUID
	Actor     string
	Decision  domain.Decision
	Reason    string
	// ExpectedVersion is the version the admin reviewed. It must match the
	// stored version.
	ExpectedVersion int64
}

// Decide approves or rejects a payment awaiting review. Capability checks
// happen at the edge; Actor is the authenticated admin.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*domain.PaymentRecord, error) {
	if req.ExpectedVersion < 1 {
		return nil, fmt.Errorf("Decide: expected_version: %w", domain.ErrMissingRequiredField)
	}

	p, err := s.records.Get(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("Decide: %w", err)
	}
	if req.ExpectedVersion != p.Version {
		return nil, fmt.Errorf("Decide: have version %d, expected %d: %w", p.Version, req.ExpectedVersion, domain.ErrConcurrentModification)
	}

	from := p.Status
	if err := p.Decide(req.Decision, req.Actor, strings.TrimSpace(req.Reason), s.now()); err != nil {
		return nil, fmt.Errorf("Decide: %s: %w", from, err)
	}

	var payload json.RawMessage
	if p.DecisionReason != nil {
		payload, _ = json.Marshal(map[string]string{"reason": *p.DecisionReason})
	}
	if err := s.records.Save(ctx, p, record.Change{From: from, Actor: req.Actor, Payload: payload}); err != nil {
		return nil, fmt.Errorf("Decide: %w", err)
	}

	logging.FromContext(ctx).Info("payment decided",
		"payment_id", p.ID,
		"decision", req.Decision,
		"decided_by", req.Actor,
	)
	return p, nil
}

type ConfirmRequest struct {
	PaymentID       uuid.UUID
	TenantID        uuid.UUID
	TransactionID   string
	ExpectedVersion int64
}

// SubmitConfirmation moves a pending mobile money or payment reference record
// into review once the customer says they paid. Mobile money requires the
// operator's transaction id.
func (s *Service) SubmitConfirmation(ctx context.Context, req ConfirmRequest) (*domain.PaymentRecord, error) {
	p, err := s.records.Get(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("SubmitConfirmation: %w", err)
	}
	if p.TenantID != req.TenantID {
		return nil, fmt.Errorf("SubmitConfirmation: %w", domain.ErrNotFound)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != p.Version {
		return nil, fmt.Errorf("SubmitConfirmation: %w", domain.ErrConcurrentModification)
	}

	txID := strings.TrimSpace(req.TransactionID)
	switch d := p.Details.(type) {
	case *domain.MobileMoneyDetails:
		if txID == "" {
			return nil, fmt.Errorf("SubmitConfirmation: transaction_id: %w", domain.ErrMissingRequiredField)
		}
		d.TransactionID = txID
	case *domain.PaymentReferenceDetails:
		d.TransactionID = txID
	default:
		return nil, fmt.Errorf("SubmitConfirmation: %s: %w", p.Method, domain.ErrUnsupportedMethod)
	}

	from := p.Status
	if from != domain.PaymentStatusPending {
		return nil, fmt.Errorf("SubmitConfirmation: %s: %w", from, domain.ErrInvalidTransition)
	}
	if err := p.Transition(domain.PaymentStatusProcessing, s.now()); err != nil {
		return nil, fmt.Errorf("SubmitConfirmation: %w", err)
	}

	var payload json.RawMessage
	if txID != "" {
		payload, _ = json.Marshal(map[string]string{"transaction_id": txID})
	}
	if err := s.records.Save(ctx, p, record.Change{From: from, Actor: "tenant:" + req.TenantID.String(), Payload: payload}); err != nil {
		return nil, fmt.Errorf("SubmitConfirmation: %w", err)
	}
	return p, nil
}

func (s *Service) History(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	events, err := s.records.History(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return events, nil
}
