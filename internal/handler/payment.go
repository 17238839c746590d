package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/proof"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/approval"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/payment"
)

const proofFormField = "proofOfPayment"

type paymentService interface {
	CreatePayment(ctx context.Context, req payment.CreateRequest) (*domain.PaymentRecord, *payment.Instructions, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (*domain.PaymentRecord, error)
	Instructions(method domain.Method, amount int64) (*payment.Instructions, error)
}

type confirmationService interface {
	SubmitConfirmation(ctx context.Context, req approval.ConfirmRequest) (*domain.PaymentRecord, error)
}

type proofWriter interface {
	Store(ctx context.Context, paymentID uuid.UUID, f proof.File) (string, error)
}

type PaymentHandler struct {
	payments      paymentService
	confirmations confirmationService
	proofs        proofWriter
	maxProofBytes int64
}

func NewPaymentHandler(payments paymentService, confirmations confirmationService, proofs proofWriter, maxProofBytes int64) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		confirmations: confirmations,
		proofs:        proofs,
		maxProofBytes: maxProofBytes,
	}
}

type createPaymentRequest struct {
	InvoiceID          string `json:"invoice_id"`
	Method             string `json:"method"`
	Amount             int64  `json:"amount"`
	PhoneNumber        string `json:"phone_number,omitempty"`
	PaymentMethodToken string `json:"payment_method_token,omitempty"`
}

func (r createPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.InvoiceID == "" {
		errs = append(errs, FieldError{Field: "invoice_id", Message: "required"})
	} else if _, err := uuid.Parse(r.InvoiceID); err != nil {
		errs = append(errs, FieldError{Field: "invoice_id", Message: "must be a valid UUID"})
	}

	if r.Method == "" {
		errs = append(errs, FieldError{Field: "method", Message: "required"})
	}

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	return errs
}

type paymentDTO struct {
	ID             uuid.UUID            `json:"id"`
	TenantID       uuid.UUID            `json:"tenant_id"`
	InvoiceID      uuid.UUID            `json:"invoice_id"`
	Method         domain.Method        `json:"method"`
	Amount         int64                `json:"amount"`
	Currency       domain.Currency      `json:"currency"`
	DisplayAmount  string               `json:"display_amount"`
	Status         domain.PaymentStatus `json:"status"`
	Reference      string               `json:"reference,omitempty"`
	Details        any                  `json:"details"`
	ExpiresAt      time.Time            `json:"expires_at"`
	DecidedBy      *string              `json:"decided_by,omitempty"`
	DecisionReason *string              `json:"decision_reason,omitempty"`
	DecidedAt      *time.Time           `json:"decided_at,omitempty"`
	FailureReason  *string              `json:"failure_reason,omitempty"`
	Version        int64                `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func toPaymentDTO(p *domain.PaymentRecord) paymentDTO {
	dto := paymentDTO{
		ID:             p.ID,
		TenantID:       p.TenantID,
		InvoiceID:      p.InvoiceID,
		Method:         p.Method,
		Amount:         p.Amount,
		Currency:       p.Currency,
		DisplayAmount:  domain.FormatAmount(p.Amount, p.Currency),
		Status:         p.Status,
		Details:        publicDetails(p.Details),
		ExpiresAt:      p.ExpiresAt,
		DecidedBy:      p.DecidedBy,
		DecisionReason: p.DecisionReason,
		DecidedAt:      p.DecidedAt,
		FailureReason:  p.FailureReason,
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if ref, ok := p.Reference(); ok {
		dto.Reference = ref
	}
	return dto
}

type cardDetailsDTO struct {
	ClientSecret string           `json:"client_secret,omitempty"`
	ChallengeURL string           `json:"challenge_url,omitempty"`
	State        domain.CardState `json:"state"`
}

// publicDetails strips fields callers must never see back, such as the card
// payment method token.
func publicDetails(d domain.MethodDetails) any {
	if card, ok := d.(*domain.CardDetails); ok {
		return cardDetailsDTO{
			ClientSecret: card.ClientSecret,
			ChallengeURL: card.ChallengeURL,
			State:        card.State,
		}
	}
	return d
}

type createPaymentResponse struct {
	Payment      paymentDTO            `json:"payment"`
	Instructions *payment.Instructions `json:"instructions"`
}

func (h *PaymentHandler) Instructions(w http.ResponseWriter, r *http.Request) {
	method := domain.Method(r.PathValue("method"))

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be an integer amount in minor units"}})
		return
	}

	in, err := h.payments.Instructions(method, amount)
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, in)
}

// Create accepts JSON, or multipart form data when a bank transfer proof is
// attached under the proofOfPayment field.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		req      createPaymentRequest
		svcReq   payment.CreateRequest
		appError *AppError
	)
	if mediaType == "multipart/form-data" {
		req, svcReq, appError = h.parseMultipart(w, r)
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			appError = ErrInvalidRequest
		}
	}
	if appError != nil {
		RespondAppError(w, appError, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	svcReq.TenantID = claims.TenantID
	svcReq.InvoiceID = uuid.MustParse(req.InvoiceID)
	svcReq.Method = domain.Method(req.Method)
	svcReq.Amount = req.Amount
	svcReq.PhoneNumber = req.PhoneNumber
	svcReq.PaymentMethodToken = req.PaymentMethodToken

	p, in, err := h.payments.CreatePayment(r.Context(), svcReq)
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	RespondSuccess(w, http.StatusCreated, createPaymentResponse{Payment: toPaymentDTO(p), Instructions: in})
}

func (h *PaymentHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (createPaymentRequest, payment.CreateRequest, *AppError) {
	var (
		req    createPaymentRequest
		svcReq payment.CreateRequest
	)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxProofBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, svcReq, ErrProofTooLarge
		}
		return req, svcReq, ErrInvalidRequest
	}

	req.InvoiceID = r.FormValue("invoice_id")
	req.Method = r.FormValue("method")
	req.PhoneNumber = r.FormValue("phone_number")
	req.PaymentMethodToken = r.FormValue("payment_method_token")
	if v := r.FormValue("amount"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, svcReq, ErrInvalidAmount
		}
		req.Amount = amount
	}

	file, header, err := r.FormFile(proofFormField)
	if errors.Is(err, http.ErrMissingFile) {
		return req, svcReq, nil
	}
	if err != nil {
		return req, svcReq, ErrInvalidRequest
	}
	defer file.Close()

	// The proof is stored under the id the record will be created with, so
	// the router can check the handle belongs to it.
	svcReq.PaymentID = uuid.New()
	handle, err := h.proofs.Store(r.Context(), svcReq.PaymentID, proof.File{Name: header.Filename, Reader: file})
	if err != nil {
		logging.FromContext(r.Context()).Info("proof upload rejected", "error", err)
		return req, svcReq, AppErrorFor(err)
	}
	svcReq.ProofHandle = handle
	return req, svcReq, nil
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	var p *domain.PaymentRecord
	if claims.IsAdmin() {
		p, err = h.payments.Get(r.Context(), id)
	} else {
		p, err = h.payments.GetForTenant(r.Context(), claims.TenantID, id)
	}
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

type confirmPaymentRequest struct {
	TransactionID   string `json:"transaction_id"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
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

	var req confirmPaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	p, err := h.confirmations.SubmitConfirmation(r.Context(), approval.ConfirmRequest{
		PaymentID:       id,
		TenantID:        claims.TenantID,
		TransactionID:   req.TransactionID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		RespondDomainError(r.Context(), w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}
