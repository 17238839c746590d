package card

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
)

const SignatureHeader = "X-Webhook-Signature"

type gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

type recordStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	GetByIntentID(ctx context.Context, intentID string) (*domain.PaymentRecord, error)
	Save(ctx context.Context, p *domain.PaymentRecord, ch record.Change) error
}

type webhookStore interface {
	Create(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	MarkAttempt(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus, lastErr *string) error
}

// Outcome is what the webhook endpoint reports back to the gateway.
type Outcome string

const (
	OutcomeReceived        Outcome = "received"
	OutcomeAlreadyReceived Outcome = "already_received"
)

// Confirmer drives card records through the gateway's 3-D Secure flow and
// applies its webhook events exactly once.
type Confirmer struct {
	records  recordStore
	webhooks webhookStore
	gateway  gateway
	secret   string
	now      func() time.Time
}

func NewConfirmer(records recordStore, webhooks webhookStore, gw gateway, webhookSecret string) *Confirmer {
	return &Confirmer{
		records:  records,
		webhooks: webhooks,
		gateway:  gw,
		secret:   webhookSecret,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cardDetails(p *domain.PaymentRecord) (*domain.CardDetails, error) {
	card, ok := p.Details.(*domain.CardDetails)
	if !ok || p.Method != domain.MethodCard {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Method, domain.ErrUnsupportedMethod)
	}
	return card, nil
}

// CreateIntent opens a gateway intent for a freshly created card record. A
// record that already has an intent is returned unchanged.
func (c *Confirmer) CreateIntent(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRecord, error) {
	log := logging.FromContext(ctx)

	p, err := c.records.Get(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("CreateIntent: %w", err)
	}
	card, err := cardDetails(p)
	if err != nil {
		return nil, fmt.Errorf("CreateIntent: %w", err)
	}
	if card.IntentID != "" {
		return p, nil
	}
	if p.Status != domain.PaymentStatusCreated {
		return nil, fmt.Errorf("CreateIntent: status %s: %w", p.Status, domain.ErrInvalidTransition)
	}

	intent, gwErr := c.gateway.CreateIntent(ctx, IntentRequest{
		PaymentID:          p.ID,
		Amount:             p.Amount,
		Currency:           p.Currency,
		PaymentMethodToken: card.PaymentMethodToken,
	})
	if gwErr != nil {
		log.Error("card intent creation failed", "payment_id", p.ID, "error", gwErr)
		from := p.Status
		if err := p.Transition(domain.PaymentStatusFailed, c.now()); err != nil {
			return nil, fmt.Errorf("CreateIntent: %w", err)
		}
		reason := "gateway unavailable"
		p.FailureReason = &reason
		card.State = domain.CardStateFailed
		if err := c.records.Save(ctx, p, record.Change{From: from, Actor: domain.ActorGateway}); err != nil {
			log.Error("failed to mark card payment failed", "payment_id", p.ID, "error", err)
		}
		return p, fmt.Errorf("CreateIntent: %w: %w", domain.ErrExternalProvider, gwErr)
	}

	card.IntentID = intent.ID
	card.ClientSecret = intent.ClientSecret
	card.ChallengeURL = intent.ChallengeURL

	from := p.Status
	now := c.now()
	change := record.Change{From: from, Actor: domain.ActorGateway}

	switch intent.Status {
	case IntentStatusSucceeded:
		card.State = domain.CardStateSucceeded
		err = p.Transition(domain.PaymentStatusApproved, now)
	case IntentStatusFailed:
		card.State = domain.CardStateFailed
		err = p.Transition(domain.PaymentStatusRejected, now)
		if err == nil && intent.FailureReason != "" {
			p.FailureReason = &intent.FailureReason
		}
	case IntentStatusRequiresAction:
		card.State = domain.CardStateRequiresAction
		p.Touch(now)
		change.EventType = domain.PaymentEventTypeIntentCreated
	default:
		card.State = domain.CardStateProcessing
		p.Touch(now)
		change.EventType = domain.PaymentEventTypeIntentCreated
	}
	if err != nil {
		return nil, fmt.Errorf("CreateIntent: %w", err)
	}

	if err := c.records.Save(ctx, p, change); err != nil {
		return nil, fmt.Errorf("CreateIntent: %w", err)
	}

	log.Info("card intent created",
		"payment_id", p.ID,
		"intent_id", intent.ID,
		"intent_status", intent.Status,
	)
	return p, nil
}

// VerifySignature checks the hex HMAC-SHA256 of body against signature.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleWebhook verifies, records and applies one gateway event. A replayed
// event id is acknowledged without being applied again. When applying fails
// transiently the event stays pending for the retry worker and the gateway
// still gets an acknowledgement.
func (c *Confirmer) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	log := logging.FromContext(ctx)

	if !VerifySignature(body, signature, c.secret) {
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return "", fmt.Errorf("HandleWebhook: %w", domain.ErrInvalidWebhookSignature)
	}

	var payload domain.CardWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("HandleWebhook: %w: %w", domain.ErrInvalidRequest, err)
	}
	if payload.ID == "" || payload.Type == "" {
		return "", fmt.Errorf("HandleWebhook: event id and type: %w", domain.ErrMissingRequiredField)
	}

	event := &domain.WebhookEvent{
		ID:              uuid.New(),
		ProviderEventID: payload.ID,
		EventType:       payload.Type,
		Payload:         body,
		Status:          domain.WebhookEventStatusPending,
		CreatedAt:       c.now(),
	}
	if id, err := uuid.Parse(payload.Data.PaymentID); err == nil {
		event.PaymentID = &id
	}

	inserted, err := c.webhooks.Create(ctx, event)
	if err != nil {
		return "", fmt.Errorf("HandleWebhook: %w", err)
	}
	if !inserted {
		metrics.WebhookEvents.WithLabelValues(string(payload.Type), "duplicate").Inc()
		log.Info("duplicate webhook received", "provider_event_id", payload.ID, "event_type", payload.Type)
		return OutcomeAlreadyReceived, nil
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"provider_event_id", payload.ID,
		"event_type", payload.Type,
	)

	if err := c.Process(ctx, *event); err != nil {
		log.Warn("webhook event left pending for retry", "webhook_event_id", event.ID, "error", err)
	}
	return OutcomeReceived, nil
}

// Process applies a stored event and records the attempt. It returns an error
// only when the event should be retried.
func (c *Confirmer) Process(ctx context.Context, event domain.WebhookEvent) error {
	status, applyErr := c.apply(ctx, event)
	metrics.WebhookEvents.WithLabelValues(string(event.EventType), string(status)).Inc()

	var lastErr *string
	if applyErr != nil {
		msg := applyErr.Error()
		lastErr = &msg
	}
	if err := c.webhooks.MarkAttempt(ctx, event.ID, status, lastErr); err != nil {
		return fmt.Errorf("Process: %w", err)
	}
	if status == domain.WebhookEventStatusPending {
		return fmt.Errorf("Process: %w", applyErr)
	}
	return nil
}

func (c *Confirmer) apply(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEventStatus, error) {
	log := logging.FromContext(ctx).With("webhook_event_id", event.ID, "event_type", event.EventType)

	var payload domain.CardWebhookPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		log.Error("malformed webhook payload", "error", err)
		return domain.WebhookEventStatusFailed, err
	}

	p, err := c.lookup(ctx, payload.Data)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("payment not found for webhook", "intent_id", payload.Data.IntentID)
			return domain.WebhookEventStatusFailed, err
		}
		return domain.WebhookEventStatusPending, err
	}
	card, err := cardDetails(p)
	if err != nil {
		log.Warn("webhook references a non-card payment", "payment_id", p.ID)
		return domain.WebhookEventStatusFailed, err
	}

	if p.Status.IsTerminal() {
		// The gateway may have captured funds after a timeout closed the
		// record. That money has to be matched by hand.
		if payload.Type == domain.WebhookEventTypeIntentSucceeded && p.Status != domain.PaymentStatusApproved {
			metrics.UnreconciledCaptures.Inc()
			log.Error("card capture on closed payment needs manual reconciliation",
				"alert", true,
				"payment_id", p.ID,
				"payment_status", p.Status,
				"intent_id", payload.Data.IntentID,
				"amount", p.Amount,
				"currency", p.Currency,
			)
			return domain.WebhookEventStatusIgnored, fmt.Errorf("capture on %s payment %s needs manual reconciliation", p.Status, p.ID)
		}
		log.Info("payment already in terminal state, skipping",
			"payment_id", p.ID,
			"payment_status", p.Status,
		)
		return domain.WebhookEventStatusIgnored, nil
	}

	from := p.Status
	now := c.now()
	change := record.Change{From: from, Actor: domain.ActorGateway, Payload: event.Payload}
	if card.IntentID == "" {
		card.IntentID = payload.Data.IntentID
	}

	switch payload.Type {
	case domain.WebhookEventTypeIntentSucceeded:
		card.State = domain.CardStateSucceeded
		err = p.Transition(domain.PaymentStatusApproved, now)
	case domain.WebhookEventTypeIntentFailed:
		card.State = domain.CardStateFailed
		err = p.Transition(domain.PaymentStatusRejected, now)
		if err == nil && payload.Data.FailureReason != "" {
			reason := payload.Data.FailureReason
			p.FailureReason = &reason
		}
	case domain.WebhookEventTypeIntentRequiresAction:
		if card.State == domain.CardStateRequiresAction {
			return domain.WebhookEventStatusIgnored, nil
		}
		card.State = domain.CardStateRequiresAction
		p.Touch(now)
		change.EventType = domain.PaymentEventTypeIntentCreated
	default:
		log.Info("unhandled webhook event type")
		return domain.WebhookEventStatusIgnored, nil
	}
	if err != nil {
		log.Info("webhook event not applicable", "payment_id", p.ID, "payment_status", from, "error", err)
		return domain.WebhookEventStatusIgnored, nil
	}

	// A concurrent modification is retried too; the next attempt re-reads the
	// record and ignores the event if it went terminal meanwhile.
	if err := c.records.Save(ctx, p, change); err != nil {
		return domain.WebhookEventStatusPending, err
	}

	log.Info("webhook event applied", "payment_id", p.ID, "payment_status", p.Status)
	return domain.WebhookEventStatusProcessed, nil
}

func (c *Confirmer) lookup(ctx context.Context, data domain.CardWebhookData) (*domain.PaymentRecord, error) {
	if data.IntentID != "" {
		p, err := c.records.GetByIntentID(ctx, data.IntentID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return p, err
		}
	}
	id, err := uuid.Parse(data.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("lookup: payment_id %q: %w", data.PaymentID, domain.ErrNotFound)
	}
	return c.records.Get(ctx, id)
}
