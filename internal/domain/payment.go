package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Currency string

const CurrencyAOA Currency = "AOA"

func (c Currency) IsValid() bool {
	return len(c) == 3
}

type Method string

const (
	MethodCard             Method = "card"
	MethodMobileMoney      Method = "mobile_money"
	MethodBankTransfer     Method = "bank_transfer"
	MethodPaymentReference Method = "payment_reference"
)

var supportedMethods = []Method{
	MethodCard,
	MethodMobileMoney,
	MethodBankTransfer,
	MethodPaymentReference,
}

func (m Method) IsValid() bool {
	return slices.Contains(supportedMethods, m)
}

// RequiresReference reports whether the rail hands the customer a numeric
// reference to key in at an ATM or banking app.
func (m Method) RequiresReference() bool {
	switch m {
	case MethodMobileMoney, MethodBankTransfer, MethodPaymentReference:
		return true
	default:
		return false
	}
}

func SupportedMethods() []Method {
	return slices.Clone(supportedMethods)
}

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusApproved   PaymentStatus = "approved"
	PaymentStatusRejected   PaymentStatus = "rejected"
	PaymentStatusExpired    PaymentStatus = "expired"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// transitions is the only source of legal status moves. Terminal states have
// no outgoing edges.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated: {
		PaymentStatusPending, PaymentStatusProcessing,
		PaymentStatusApproved, PaymentStatusRejected, PaymentStatusFailed,
	},
	PaymentStatusPending: {
		PaymentStatusProcessing,
		PaymentStatusApproved, PaymentStatusRejected, PaymentStatusExpired, PaymentStatusFailed,
	},
	PaymentStatusProcessing: {
		PaymentStatusApproved, PaymentStatusRejected, PaymentStatusExpired, PaymentStatusFailed,
	},
}

func CanTransition(from, to PaymentStatus) bool {
	return slices.Contains(transitions[from], to)
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusApproved, PaymentStatusRejected, PaymentStatusExpired, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) IsLive() bool {
	return !s.IsTerminal()
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

const MinRejectionReasonLen = 10

type PaymentRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	InvoiceID      uuid.UUID
	Method         Method
	Amount         int64
	Currency       Currency
	Status         PaymentStatus
	Details        MethodDetails
	ExpiresAt      time.Time
	DecidedBy      *string
	DecisionReason *string
	DecidedAt      *time.Time
	FailureReason  *string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the record along the status graph and bumps Version. The
// caller persists with the previous version as the compare-and-swap guard.
func (p *PaymentRecord) Transition(to PaymentStatus, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return ErrInvalidTransition
	}
	if to == PaymentStatusProcessing && p.Method == MethodBankTransfer {
		bt, ok := p.Details.(*BankTransferDetails)
		if !ok || bt.ProofHandle == "" {
			return ErrMissingProofForBankTransfer
		}
	}
	p.Status = to
	p.touch(now)
	return nil
}

// Touch records a non-status mutation (method details changed) so the
// version still advances.
func (p *PaymentRecord) Touch(now time.Time) {
	p.touch(now)
}

func (p *PaymentRecord) touch(now time.Time) {
	p.Version++
	p.UpdatedAt = now
}

// Decide applies a manual approval or rejection. Only records awaiting human
// review may be decided.
func (p *PaymentRecord) Decide(decision Decision, actor, reason string, now time.Time) error {
	if p.Status != PaymentStatusProcessing {
		return ErrInvalidTransition
	}
	if actor == "" {
		return ErrMissingActor
	}

	var to PaymentStatus
	switch decision {
	case DecisionApprove:
		to = PaymentStatusApproved
	case DecisionReject:
		if len([]rune(reason)) < MinRejectionReasonLen {
			return ErrRejectionReasonTooShort
		}
		to = PaymentStatusRejected
	default:
		return ErrInvalidDecision
	}

	if err := p.Transition(to, now); err != nil {
		return err
	}
	p.DecidedBy = &actor
	p.DecidedAt = &now
	if reason != "" {
		p.DecisionReason = &reason
	}
	return nil
}

// Expire handles TTL elapse. Card records still waiting on a 3-D Secure
// challenge fail instead of expiring.
func (p *PaymentRecord) Expire(now time.Time) error {
	if p.Method == MethodCard {
		if p.Status != PaymentStatusCreated {
			return ErrInvalidTransition
		}
		if err := p.Transition(PaymentStatusFailed, now); err != nil {
			return err
		}
		reason := FailureReasonChallengeTimeout
		p.FailureReason = &reason
		if card, ok := p.Details.(*CardDetails); ok {
			card.State = CardStateFailed
		}
		return nil
	}

	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing {
		return ErrInvalidTransition
	}
	return p.Transition(PaymentStatusExpired, now)
}

func (p *PaymentRecord) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Reference returns the customer-facing reference for reference-bearing rails.
func (p *PaymentRecord) Reference() (string, bool) {
	if r, ok := p.Details.(referenced); ok {
		ref := r.reference()
		return ref, ref != ""
	}
	return "", false
}

const FailureReasonChallengeTimeout = "3ds challenge not completed in time"
