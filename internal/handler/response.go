package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// domainErrors is checked in order; the first sentinel err wraps wins.
var domainErrors = []struct {
	target error
	appErr *AppError
}{
	{domain.ErrMissingProofForBankTransfer, ErrMissingProof},
	{domain.ErrNotFound, ErrResourceNotFound},
	{domain.ErrProofNotFound, ErrResourceNotFound},
	{domain.ErrForbidden, ErrForbidden},
	{domain.ErrUnsupportedMethod, ErrUnsupportedMethod},
	{domain.ErrInvalidAmount, ErrInvalidAmount},
	{domain.ErrAmountMismatch, ErrAmountMismatch},
	{domain.ErrMissingRequiredField, ErrMissingField},
	{domain.ErrMissingActor, ErrMissingField},
	{domain.ErrUnsupportedProofType, ErrUnsupportedProofType},
	{domain.ErrProofTooLarge, ErrProofTooLarge},
	{domain.ErrInvalidDecision, ErrInvalidDecision},
	{domain.ErrRejectionReasonTooShort, ErrReasonTooShort},
	{domain.ErrInvalidTransition, ErrInvalidTransition},
	{domain.ErrConcurrentModification, ErrVersionConflict},
	{domain.ErrDuplicateIdempotencyKey, ErrIdempotencyConflict},
	{domain.ErrInvalidWebhookSignature, ErrInvalidSignature},
	{domain.ErrExternalProvider, ErrProviderUnavailable},
	{domain.ErrAllocationExhausted, ErrAllocationExhausted},
	{domain.ErrInvalidRequest, ErrInvalidRequest},
}

// AppErrorFor maps a service error onto its HTTP representation.
func AppErrorFor(err error) *AppError {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.appErr
		}
	}
	return ErrInternalError
}

// RespondDomainError logs err at a level matching its class and writes the
// mapped envelope.
func RespondDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logging.FromContext(ctx)
	appErr := AppErrorFor(err)

	switch {
	case appErr == ErrInternalError:
		log.Error("unhandled domain error", "error", err)
	case appErr.Status >= http.StatusInternalServerError:
		log.Error("request failed", "code", appErr.Code, "error", err)
	case appErr == ErrInvalidSignature:
		log.Warn("webhook rejected", "error", err)
	default:
		log.Info("request rejected", "code", appErr.Code, "error", err)
	}

	RespondAppError(w, appErr, nil)
}
