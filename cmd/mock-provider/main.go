package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/card"
)

// Tokens that steer the simulated outcome. Anything else succeeds.
const (
	tokenChallenge = "pm_card_3ds"
	tokenDeclined  = "pm_card_declined"
	tokenAbandoned = "pm_card_3ds_abandoned"
)

type mockConfig struct {
	Port           int           `env:"MOCK_PORT" envDefault:"8081"`
	WebhookURL     string        `env:"MOCK_WEBHOOK_URL" envDefault:"http://api:8080/api/v1/webhooks/card"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET,required"`
	ChallengeDelay time.Duration `env:"MOCK_CHALLENGE_DELAY" envDefault:"5s"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
}

type intentRequest struct {
	PaymentID          string `json:"payment_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	PaymentMethodToken string `json:"payment_method_token"`
	ReturnURL          string `json:"return_url"`
}

// gateway keeps intents by idempotency key so a retried create returns the
// original intent.
type gateway struct {
	cfg    mockConfig
	logger *slog.Logger
	client *http.Client

	mu      sync.Mutex
	intents map[string]card.Intent
}

func main() {
	cfg, err := env.ParseAs[mockConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("mock-provider", "info", cfg.AppEnv)

	g := &gateway{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		intents: make(map[string]card.Intent),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /v1/payment_intents", g.createIntent)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("mock provider started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (g *gateway) createIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.PaymentID == "" || req.Amount <= 0 || req.PaymentMethodToken == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "payment_id, amount and payment_method_token are required"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.PaymentID
	}

	g.mu.Lock()
	intent, seen := g.intents[key]
	if !seen {
		intent = g.decide(req)
		g.intents[key] = intent
	}
	g.mu.Unlock()

	g.logger.Info("intent requested",
		"payment_id", req.PaymentID,
		"intent_id", intent.ID,
		"status", intent.Status,
		"replayed", seen,
	)

	if !seen && intent.Status == card.IntentStatusRequiresAction && req.PaymentMethodToken != tokenAbandoned {
		go g.completeChallenge(intent.ID, req.PaymentID)
	}
	writeJSON(w, http.StatusOK, intent)
}

func (g *gateway) decide(req intentRequest) card.Intent {
	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := card.Intent{ID: id, ClientSecret: id + "_secret"}

	switch req.PaymentMethodToken {
	case tokenDeclined:
		intent.Status = card.IntentStatusFailed
		intent.FailureReason = "card_declined"
	case tokenChallenge, tokenAbandoned:
		intent.Status = card.IntentStatusRequiresAction
		intent.ChallengeURL = "https://acs.mock.test/challenge/" + id + "?return_url=" + req.ReturnURL
	default:
		intent.Status = card.IntentStatusSucceeded
	}
	return intent
}

// completeChallenge stands in for the cardholder passing 3-D Secure. The
// webhook is sent twice to exercise dedup on the receiving side.
func (g *gateway) completeChallenge(intentID, paymentID string) {
	time.Sleep(g.cfg.ChallengeDelay)

	body, err := json.Marshal(domain.CardWebhookPayload{
		ID:   "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type: domain.WebhookEventTypeIntentSucceeded,
		Data: domain.CardWebhookData{IntentID: intentID, PaymentID: paymentID},
	})
	if err != nil {
		g.logger.Error("failed to encode webhook", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err := g.deliver(body); err != nil {
			g.logger.Error("webhook delivery failed", "intent_id", intentID, "attempt", attempt, "error", err)
			continue
		}
		g.logger.Info("webhook delivered", "intent_id", intentID, "attempt", attempt)
	}
}

func (g *gateway) deliver(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(card.SignatureHeader, card.Sign(body, g.cfg.WebhookSecret))

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deliver: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
