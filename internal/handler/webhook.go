package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/josh-kwaku/supportdesk-payments/internal/service/card"
)

type webhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (card.Outcome, error)
}

type WebhookHandler struct {
	confirmer webhookProcessor
}

func NewWebhookHandler(confirmer webhookProcessor) *WebhookHandler {
	return &WebhookHandler{confirmer: confirmer}
}

// ReceiveCardWebhook acknowledges every verified event, including replays,
// so the gateway stops redelivering it.
func (h *WebhookHandler) ReceiveCardWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	outcome, err := h.confirmer.HandleWebhook(r.Context(), body, r.Header.Get(card.SignatureHeader))
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
