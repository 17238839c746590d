package domain

import "errors"

var (
	ErrNotFound                    = errors.New("not found")
	ErrInvalidRequest              = errors.New("invalid request")
	ErrUnsupportedMethod           = errors.New("unsupported payment method")
	ErrInvalidAmount               = errors.New("amount must be greater than zero")
	ErrAmountMismatch              = errors.New("amount does not match invoice outstanding amount")
	ErrMissingRequiredField        = errors.New("missing required field")
	ErrMissingProofForBankTransfer = errors.New("bank transfer requires proof of payment")
	ErrInvalidDecision             = errors.New("decision must be approve or reject")
	ErrRejectionReasonTooShort     = errors.New("rejection reason too short")
	ErrMissingActor                = errors.New("decision actor required")
	ErrForbidden                   = errors.New("caller lacks required capability")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrConcurrentModification      = errors.New("payment was modified concurrently")
	ErrAllocationExhausted         = errors.New("reference allocation exhausted")
	ErrExternalProvider            = errors.New("payment provider error")
	ErrInvalidWebhookSignature     = errors.New("invalid webhook signature")
	ErrUnsupportedProofType        = errors.New("unsupported proof type")
	ErrProofTooLarge               = errors.New("proof too large")
	ErrProofNotFound               = errors.New("proof not found")
	ErrDuplicateIdempotencyKey     = errors.New("duplicate idempotency key")
)
