package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusIgnored   WebhookEventStatus = "ignored"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

type WebhookEventType string

const (
	WebhookEventTypeIntentSucceeded      WebhookEventType = "payment_intent.succeeded"
	WebhookEventTypeIntentFailed         WebhookEventType = "payment_intent.payment_failed"
	WebhookEventTypeIntentRequiresAction WebhookEventType = "payment_intent.requires_action"
)

// WebhookEvent is a card gateway notification as persisted for dedup and
// retry. ProviderEventID is unique across all stored events.
type WebhookEvent struct {
	ID              uuid.UUID
	ProviderEventID string
	EventType       WebhookEventType
	PaymentID       *uuid.UUID
	Payload         json.RawMessage
	Status          WebhookEventStatus
	Attempts        int
	LastAttempt     *time.Time
	LastError       *string
	CreatedAt       time.Time
}

// CardWebhookPayload is the gateway's event envelope.
type CardWebhookPayload struct {
	ID   string           `json:"id"`
	Type WebhookEventType `json:"type"`
	Data CardWebhookData  `json:"data"`
}

type CardWebhookData struct {
	IntentID      string `json:"intent_id"`
	PaymentID     string `json:"payment_id"`
	FailureReason string `json:"failure_reason,omitempty"`
}
