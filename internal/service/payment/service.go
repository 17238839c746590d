package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/reference"
)

type recordStore interface {
	Create(ctx context.Context, p *domain.PaymentRecord, history []*domain.PaymentEvent, prepare func(ctx context.Context, tx *sql.Tx) error) error
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
}

type invoiceReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
}

type referenceAllocator interface {
	Allocate(ctx context.Context, tx *sql.Tx, method domain.Method, tenantID, paymentID uuid.UUID) (reference.Reference, error)
}

type proofVerifier interface {
	Verify(handle string, paymentID uuid.UUID) error
}

type intentCreator interface {
	CreateIntent(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRecord, error)
}

// Service is the payment method router: it picks the rail strategy for a
// request, validates it, reserves a reference where the rail needs one and
// persists the new record.
type Service struct {
	records   recordStore
	invoices  invoiceReader
	allocator referenceAllocator
	proofs    proofVerifier
	cards     intentCreator
	rails     map[domain.Method]rail
	currency  domain.Currency
	now       func() time.Time
}

func NewService(
	records recordStore,
	invoices invoiceReader,
	allocator referenceAllocator,
	proofs proofVerifier,
	cards intentCreator,
	rails config.Rails,
	ttl TTLs,
	currency domain.Currency,
) *Service {
	return &Service{
		records:   records,
		invoices:  invoices,
		allocator: allocator,
		proofs:    proofs,
		cards:     cards,
		rails:     buildRails(rails, ttl),
		currency:  currency,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest carries everything a client supplies to open a payment.
// PaymentID may be preassigned so a proof can be stored before the record
// exists; it is generated otherwise.
type CreateRequest struct {
	PaymentID          uuid.UUID
	TenantID           uuid.UUID
	InvoiceID          uuid.UUID
	Method             domain.Method
	Amount             int64
	PhoneNumber        string
	PaymentMethodToken string
	ProofHandle        string
}

func (s *Service) railFor(method domain.Method) (rail, error) {
	r, ok := s.rails[method]
	if !ok {
		return nil, fmt.Errorf("%q: %w", method, domain.ErrUnsupportedMethod)
	}
	return r, nil
}

func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*domain.PaymentRecord, *Instructions, error) {
	r, err := s.railFor(req.Method)
	if err != nil {
		return nil, nil, fmt.Errorf("CreatePayment: %w", err)
	}
	if req.Amount <= 0 {
		return nil, nil, fmt.Errorf("CreatePayment: %w", domain.ErrInvalidAmount)
	}
	if req.InvoiceID == uuid.Nil {
		return nil, nil, fmt.Errorf("CreatePayment: %w", missing("invoice_id"))
	}
	if err := r.validate(req); err != nil {
		return nil, nil, fmt.Errorf("CreatePayment: %w", err)
	}

	inv, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("CreatePayment: invoice: %w", err)
	}
	if inv.TenantID != req.TenantID {
		return nil, nil, fmt.Errorf("CreatePayment: invoice: %w", domain.ErrNotFound)
	}
	if inv.Currency != s.currency {
		return nil, nil, fmt.Errorf("CreatePayment: invoice currency %s: %w", inv.Currency, domain.ErrInvalidRequest)
	}
	if inv.Outstanding() != req.Amount {
		return nil, nil, fmt.Errorf("CreatePayment: due %d, got %d: %w", inv.Outstanding(), req.Amount, domain.ErrAmountMismatch)
	}

	paymentID := req.PaymentID
	if paymentID == uuid.Nil {
		paymentID = uuid.New()
	}

	if req.Method == domain.MethodBankTransfer {
		if err := s.proofs.Verify(req.ProofHandle, paymentID); err != nil {
			return nil, nil, fmt.Errorf("CreatePayment: %w: %w", domain.ErrMissingProofForBankTransfer, err)
		}
	}

	now := s.now()
	p := &domain.PaymentRecord{
		ID:        paymentID,
		TenantID:  req.TenantID,
		InvoiceID: req.InvoiceID,
		Method:    req.Method,
		Amount:    req.Amount,
		Currency:  s.currency,
		Status:    domain.PaymentStatusCreated,
		Details:   r.details(req),
		ExpiresAt: r.expiresAt(now),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	history := []*domain.PaymentEvent{
		domain.NewPaymentEvent(p, domain.PaymentEventTypeCreated, nil, domain.ActorSystem, nil),
	}
	if next := r.settledStatus(); next != p.Status {
		from := p.Status
		if err := p.Transition(next, now); err != nil {
			return nil, nil, fmt.Errorf("CreatePayment: %w", err)
		}
		history = append(history, domain.NewPaymentEvent(p, domain.EventTypeForStatus(next), &from, domain.ActorSystem, nil))
	}

	var prepare func(ctx context.Context, tx *sql.Tx) error
	if req.Method.RequiresReference() {
		prepare = func(ctx context.Context, tx *sql.Tx) error {
			ref, err := s.allocator.Allocate(ctx, tx, req.Method, req.TenantID, paymentID)
			if err != nil {
				return err
			}
			setReference(p.Details, ref.Number, ref.Entity)
			return nil
		}
	}

	if err := s.records.Create(ctx, p, history, prepare); err != nil {
		if errors.Is(err, domain.ErrAllocationExhausted) {
			logging.FromContext(ctx).Error("payment creation failed: no reference available",
				"tenant_id", req.TenantID,
				"method", req.Method,
			)
		}
		return nil, nil, fmt.Errorf("CreatePayment: %w", err)
	}

	if req.Method == domain.MethodCard {
		updated, err := s.cards.CreateIntent(ctx, p.ID)
		if updated != nil {
			p = updated
		}
		if err != nil {
			return p, s.instructionsFor(p), fmt.Errorf("CreatePayment: %w", err)
		}
	}

	return p, s.instructionsFor(p), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return p, nil
}

// GetForTenant hides records of other tenants as not found.
func (s *Service) GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (*domain.PaymentRecord, error) {
	p, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetForTenant: %w", err)
	}
	if p.TenantID != tenantID {
		return nil, fmt.Errorf("GetForTenant: %w", domain.ErrNotFound)
	}
	return p, nil
}

// Instructions returns the static instructions for a rail. No reference is
// reserved; one is only allocated when the payment is created.
func (s *Service) Instructions(method domain.Method, amount int64) (*Instructions, error) {
	r, err := s.railFor(method)
	if err != nil {
		return nil, fmt.Errorf("Instructions: %w", err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("Instructions: %w", domain.ErrInvalidAmount)
	}
	in := newInstructions(method, amount, s.currency)
	r.instructions(in)
	return in, nil
}

func (s *Service) instructionsFor(p *domain.PaymentRecord) *Instructions {
	in := newInstructions(p.Method, p.Amount, p.Currency)
	s.rails[p.Method].instructions(in)

	expires := p.ExpiresAt
	in.ExpiresAt = &expires
	if ref, ok := p.Reference(); ok {
		in.Reference = ref
	}
	if card, ok := p.Details.(*domain.CardDetails); ok {
		in.ClientSecret = card.ClientSecret
		in.ChallengeURL = card.ChallengeURL
		in.CardState = string(card.State)
	}
	return in
}

// Instructions is the customer-facing payload for a rail: human readable
// steps plus the machine fields a client renders.
type Instructions struct {
	Method        domain.Method `json:"method"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	DisplayAmount string        `json:"display_amount"`
	Entity        string        `json:"entity,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	Provider      string        `json:"provider,omitempty"`
	BankName      string        `json:"bank_name,omitempty"`
	IBAN          string        `json:"iban,omitempty"`
	AccountHolder string        `json:"account_holder,omitempty"`
	ClientSecret  string        `json:"client_secret,omitempty"`
	ChallengeURL  string        `json:"challenge_url,omitempty"`
	CardState     string        `json:"card_state,omitempty"`
	TTL           string        `json:"ttl"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	Steps         []string      `json:"steps"`
}

func newInstructions(method domain.Method, amount int64, currency domain.Currency) *Instructions {
	return &Instructions{
		Method:        method,
		Amount:        amount,
		Currency:      string(currency),
		DisplayAmount: domain.FormatAmount(amount, currency),
	}
}
