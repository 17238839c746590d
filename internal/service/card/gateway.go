package card

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
)

// IntentStatus is the gateway's view of a payment intent.
type IntentStatus string

const (
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusProcessing     IntentStatus = "processing"
	IntentStatusFailed         IntentStatus = "failed"
)

type IntentRequest struct {
	PaymentID          uuid.UUID
	Amount             int64
	Currency           domain.Currency
	PaymentMethodToken string
}

type Intent struct {
	ID            string       `json:"id"`
	Status        IntentStatus `json:"status"`
	ClientSecret  string       `json:"client_secret"`
	ChallengeURL  string       `json:"challenge_url,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// GatewayClient talks to the card gateway's intent API.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	returnURL  string
	httpClient *http.Client
}

func NewGatewayClient(baseURL, apiKey, returnURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		returnURL: returnURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type intentPayload struct {
	PaymentID          string `json:"payment_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	PaymentMethodToken string `json:"payment_method_token"`
	ReturnURL          string `json:"return_url"`
	Confirm            bool   `json:"confirm"`
}

// CreateIntent creates and confirms an intent in one call. The payment id is
// sent as the idempotency key so a retried call cannot charge twice.
func (c *GatewayClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(intentPayload{
		PaymentID:          req.PaymentID.String(),
		Amount:             req.Amount,
		Currency:           string(req.Currency),
		PaymentMethodToken: req.PaymentMethodToken,
		ReturnURL:          c.returnURL,
		Confirm:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateIntent: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CreateIntent: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.PaymentID.String())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	log.Info("gateway request sent", "operation", "create_intent", "payment_id", req.PaymentID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("create_intent", "error").Inc()
		return nil, fmt.Errorf("CreateIntent: send: %w", err)
	}
	defer resp.Body.Close()

	metrics.GatewayRequests.WithLabelValues("create_intent", strconv.Itoa(resp.StatusCode)).Inc()
	log.Info("gateway response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CreateIntent: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("CreateIntent: decode: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("CreateIntent: response missing intent id")
	}
	return &intent, nil
}
