package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentEventType string

const (
	PaymentEventTypeCreated       PaymentEventType = "created"
	PaymentEventTypePending       PaymentEventType = "pending"
	PaymentEventTypeProcessing    PaymentEventType = "processing"
	PaymentEventTypeIntentCreated PaymentEventType = "intent_created"
	PaymentEventTypeApproved      PaymentEventType = "approved"
	PaymentEventTypeRejected      PaymentEventType = "rejected"
	PaymentEventTypeExpired       PaymentEventType = "expired"
	PaymentEventTypeFailed        PaymentEventType = "failed"
)

// EventTypeForStatus names the audit entry written when a record enters status.
func EventTypeForStatus(s PaymentStatus) PaymentEventType {
	return PaymentEventType(s)
}

// PaymentEvent is an append-only audit entry. Rows are never updated.
type PaymentEvent struct {
	ID         uuid.UUID
	PaymentID  uuid.UUID
	EventType  PaymentEventType
	FromStatus *PaymentStatus
	ToStatus   PaymentStatus
	Version    int64
	Actor      string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

const (
	ActorSystem  = "system"
	ActorSweeper = "system:sweeper"
	ActorGateway = "provider:card"
)

func NewPaymentEvent(p *PaymentRecord, eventType PaymentEventType, from *PaymentStatus, actor string, payload json.RawMessage) *PaymentEvent {
	return &PaymentEvent{
		ID:         uuid.New(),
		PaymentID:  p.ID,
		EventType:  eventType,
		FromStatus: from,
		ToStatus:   p.Status,
		Version:    p.Version,
		Actor:      actor,
		Payload:    payload,
		CreatedAt:  p.UpdatedAt,
	}
}

// LifecycleEvent is what the engine hands to the Notifier.
type LifecycleEvent struct {
	Type      PaymentEventType `json:"type"`
	PaymentID uuid.UUID        `json:"payment_id"`
	TenantID  uuid.UUID        `json:"tenant_id"`
	InvoiceID uuid.UUID        `json:"invoice_id"`
	Method    Method           `json:"method"`
	Amount    int64            `json:"amount"`
	Currency  Currency         `json:"currency"`
	Status    PaymentStatus    `json:"status"`
	Actor     string           `json:"actor,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	At        time.Time        `json:"at"`
}

func NewLifecycleEvent(p *PaymentRecord, eventType PaymentEventType, actor string) LifecycleEvent {
	ev := LifecycleEvent{
		Type:      eventType,
		PaymentID: p.ID,
		TenantID:  p.TenantID,
		InvoiceID: p.InvoiceID,
		Method:    p.Method,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		Actor:     actor,
		At:        p.UpdatedAt,
	}
	switch {
	case p.DecisionReason != nil:
		ev.Reason = *p.DecisionReason
	case p.FailureReason != nil:
		ev.Reason = *p.FailureReason
	}
	return ev
}
