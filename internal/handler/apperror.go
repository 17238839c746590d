package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Caller is not allowed to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrUnsupportedMethod     = &AppError{http.StatusBadRequest, "UNSUPPORTED_METHOD", "Payment method is not supported"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrAmountMismatch        = &AppError{http.StatusBadRequest, "AMOUNT_MISMATCH", "Amount does not match the invoice outstanding amount"}
	ErrMissingField          = &AppError{http.StatusBadRequest, "MISSING_REQUIRED_FIELD", "A required field is missing"}
	ErrMissingProof          = &AppError{http.StatusBadRequest, "MISSING_PROOF", "Bank transfer requires proof of payment"}
	ErrUnsupportedProofType  = &AppError{http.StatusBadRequest, "UNSUPPORTED_PROOF_TYPE", "Proof must be a PDF, PNG or JPEG"}
	ErrProofTooLarge         = &AppError{http.StatusRequestEntityTooLarge, "PROOF_TOO_LARGE", "Proof of payment is too large"}
	ErrInvalidDecision       = &AppError{http.StatusBadRequest, "INVALID_DECISION", "Decision must be approve or reject"}
	ErrReasonTooShort        = &AppError{http.StatusBadRequest, "REJECTION_REASON_TOO_SHORT", "Rejection reason must be at least 10 characters"}
	ErrInvalidTransition     = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Payment cannot move to the requested status"}
	ErrVersionConflict       = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrAllocationExhausted   = &AppError{http.StatusInternalServerError, "REFERENCE_UNAVAILABLE", "No payment reference is available, please retry"}
	ErrProviderUnavailable   = &AppError{http.StatusBadGateway, "PROVIDER_ERROR", "The card gateway could not process the request"}
	ErrInvalidSignature      = &AppError{http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrIdempotencyKeyTooLong = &AppError{http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key must be at most 255 characters"}
)
