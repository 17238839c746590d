package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/approval"
)

type approvalService interface {
	Decide(ctx context.Context, req approval.DecideRequest) (*domain.PaymentRecord, error)
	History(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type proofReader interface {
	Open(handle string) (io.ReadCloser, string, error)
}

type recordReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
}

// AdminHandler serves the review queue endpoints. Routes are mounted behind
// the admin capability check.
type AdminHandler struct {
	approvals approvalService
	records   recordReader
	proofs    proofReader
}

func NewAdminHandler(approvals approvalService, records recordReader, proofs proofReader) *AdminHandler {
	return &AdminHandler{approvals: approvals, records: records, proofs: proofs}
}

type decisionRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.DecisionApprove)
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.DecisionReject)
}

func (h *AdminHandler) decide(w http.ResponseWriter, r *http.Request, decision domain.Decision) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if req.ExpectedVersion < 1 {
		RespondAppError(w, ErrMissingField, []FieldError{{Field: "expected_version", Message: "required"}})
		return
	}

	p, err := h.approvals.Decide(r.Context(), approval.DecideRequest{
		PaymentID:       id,
		Actor:           "admin:" + claims.UserID.String(),
		Decision:        decision,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

type paymentEventDTO struct {
	ID         uuid.UUID               `json:"id"`
	EventType  domain.PaymentEventType `json:"event_type"`
	FromStatus *domain.PaymentStatus   `json:"from_status"`
	ToStatus   domain.PaymentStatus    `json:"to_status"`
	Version    int64                   `json:"version"`
	Actor      string                  `json:"actor"`
	Payload    json.RawMessage         `json:"payload,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	events, err := h.approvals.History(r.Context(), id)
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}

	out := make([]paymentEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, paymentEventDTO{
			ID:         e.ID,
			EventType:  e.EventType,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Version:    e.Version,
			Actor:      e.Actor,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, out)
}

// Proof streams the bank transfer receipt attached to a payment.
func (h *AdminHandler) Proof(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.records.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	bt, ok := p.Details.(*domain.BankTransferDetails)
	if !ok || bt.ProofHandle == "" {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rc, contentType, err := h.proofs.Open(bt.ProofHandle)
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(r.Context()).Warn("proof download interrupted", "payment_id", id, "error", err)
	}
}
