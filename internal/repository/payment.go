package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

const paymentColumns = `id, tenant_id, invoice_id, method, amount, currency, status,
	method_details, expires_at, decided_by, decision_reason, decided_at, failure_reason,
	version, created_at, updated_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.PaymentRecord) error {
	details, err := domain.MarshalDetails(p.Details)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, tenant_id, invoice_id, method, amount, currency, status,
			method_details, expires_at, decided_by, decision_reason, decided_at, failure_reason,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`,
		p.ID, p.TenantID, p.InvoiceID, p.Method, p.Amount, p.Currency, p.Status,
		details, p.ExpiresAt, p.DecidedBy, p.DecisionReason, p.DecidedAt, p.FailureReason,
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE method = 'card' AND method_details ->> 'intent_id' = $1`, intentID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIntentID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIntentID: %w", err)
	}
	return p, nil
}

// Update persists p if and only if the stored version is p.Version-1.
// Callers bump the version through the domain mutators first.
func (r *PaymentRepository) Update(ctx context.Context, tx *sql.Tx, p *domain.PaymentRecord) error {
	details, err := domain.MarshalDetails(p.Details)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET
			status = $1, method_details = $2, decided_by = $3, decision_reason = $4,
			decided_at = $5, failure_reason = $6, version = $7, updated_at = $8
		WHERE id = $9 AND version = $10`,
		p.Status, details, p.DecidedBy, p.DecisionReason,
		p.DecidedAt, p.FailureReason, p.Version, p.UpdatedAt,
		p.ID, p.Version-1,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrConcurrentModification)
	}
	return nil
}

// ListExpirable returns live records whose deadline has passed, oldest first.
func (r *PaymentRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE status IN ('created', 'pending', 'processing') AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListExpirable: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListExpirable: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExpirable: rows: %w", err)
	}
	return out, nil
}

// HasProofHandle reports whether any record references the given proof.
func (r *PaymentRepository) HasProofHandle(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE method = 'bank_transfer' AND method_details ->> 'proof_handle' = $1
		)`, handle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasProofHandle: %w", err)
	}
	return exists, nil
}

func scanPayment(s scanner) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	var details []byte

	err := s.Scan(
		&p.ID, &p.TenantID, &p.InvoiceID, &p.Method, &p.Amount, &p.Currency, &p.Status,
		&details, &p.ExpiresAt, &p.DecidedBy, &p.DecisionReason, &p.DecidedAt, &p.FailureReason,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Details, err = domain.UnmarshalDetails(p.Method, details)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
