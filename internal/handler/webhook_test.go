package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/card"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
	"github.com/josh-kwaku/supportdesk-payments/internal/testutil"
)

const testWebhookSecret = "test-secret-key"

func newWebhookFixture(t *testing.T) (*WebhookHandler, *testutil.Memory, *domain.PaymentRecord) {
	t.Helper()
	mem := testutil.NewMemory()
	store := record.NewStore(mem, mem, mem.EventRepo(), mem, mem.InvoiceRepo(), &testutil.RecordingNotifier{}, time.Hour)

	now := time.Now().UTC()
	inv := &domain.Invoice{ID: uuid.New(), TenantID: uuid.New(), AmountDue: 2500, Currency: domain.CurrencyAOA, Status: domain.InvoiceStatusOpen}
	mem.PutInvoice(inv)
	p := &domain.PaymentRecord{
		ID:        uuid.New(),
		TenantID:  inv.TenantID,
		InvoiceID: inv.ID,
		Method:    domain.MethodCard,
		Amount:    2500,
		Currency:  domain.CurrencyAOA,
		Status:    domain.PaymentStatusCreated,
		Details:   &domain.CardDetails{PaymentMethodToken: "pm", IntentID: "pi_hook", State: domain.CardStateRequiresAction},
		ExpiresAt: now.Add(time.Hour),
		Version:   2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mem.PutPayment(p)

	confirmer := card.NewConfirmer(store, mem.WebhookRepo(), nil, testWebhookSecret)
	return NewWebhookHandler(confirmer), mem, p
}

func webhookBody(eventID string) string {
	b, _ := json.Marshal(domain.CardWebhookPayload{
		ID:   eventID,
		Type: domain.WebhookEventTypeIntentSucceeded,
		Data: domain.CardWebhookData{IntentID: "pi_hook"},
	})
	return string(b)
}

func TestReceiveCardWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupSig   func(body string) string
		wantStatus int
		wantCode   string
		wantData   string
	}{
		{
			name:       "valid signed webhook",
			body:       webhookBody("evt_1"),
			setupSig:   func(body string) string { return card.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusOK,
			wantData:   "received",
		},
		{
			name:       "missing signature header",
			body:       webhookBody("evt_2"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid HMAC signature",
			body:       webhookBody("evt_3"),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid JSON body",
			body:       "not-json",
			setupSig:   func(body string) string { return card.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "missing event id",
			body:       `{"type":"payment_intent.succeeded","data":{"intent_id":"pi_hook"}}`,
			setupSig:   func(body string) string { return card.Sign([]byte(body), testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "MISSING_REQUIRED_FIELD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newWebhookFixture(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/card", strings.NewReader(tc.body))
			if tc.setupSig != nil {
				req.Header.Set(card.SignatureHeader, tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.ReceiveCardWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Equal(t, map[string]any{"status": tc.wantData}, resp.Data)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestReceiveCardWebhook_ReplayAcknowledged(t *testing.T) {
	h, mem, p := newWebhookFixture(t)
	body := webhookBody("evt_replay")
	sig := card.Sign([]byte(body), testWebhookSecret)

	statuses := make([]string, 0, 2)
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/card", strings.NewReader(body))
		req.Header.Set(card.SignatureHeader, sig)
		rr := httptest.NewRecorder()
		h.ReceiveCardWebhook(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		statuses = append(statuses, resp.Data["status"])
	}

	assert.Equal(t, []string{"received", "already_received"}, statuses)

	stored, err := mem.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, stored.Status)
	assert.Len(t, mem.Events(p.ID), 1)
}
