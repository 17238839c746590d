package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

type ReferenceReservation struct {
	Method     domain.Method
	Reference  string
	Entity     string
	PaymentID  uuid.UUID
	TenantID   uuid.UUID
	ReservedAt time.Time
	ReleasedAt *time.Time
}

type ReferenceRepository struct {
	db *sql.DB
}

func NewReferenceRepository(db *sql.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// IsHeld reports whether reference is reserved for method, either by a live
// record or by one released less than a recycle window ago.
func (r *ReferenceRepository) IsHeld(ctx context.Context, tx *sql.Tx, method domain.Method, reference string, now time.Time) (bool, error) {
	var held bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM payment_references
			WHERE method = $1 AND reference = $2
			AND (released_at IS NULL OR released_at > $3)
		)`,
		method, reference, now,
	).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("IsHeld: %w", err)
	}
	return held, nil
}

// Reserve inserts the reservation. It returns false without error when a
// concurrent allocation already holds the same reference.
func (r *ReferenceRepository) Reserve(ctx context.Context, tx *sql.Tx, res *ReferenceReservation) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO payment_references (method, reference, entity, payment_id, tenant_id, reserved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (method, reference) WHERE released_at IS NULL DO NOTHING`,
		res.Method, res.Reference, res.Entity, res.PaymentID, res.TenantID, res.ReservedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Reserve: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Reserve: rows affected: %w", err)
	}
	return n == 1, nil
}

// Release marks the payment's reservation free from releaseAt onwards.
func (r *ReferenceRepository) Release(ctx context.Context, tx *sql.Tx, paymentID uuid.UUID, releaseAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_references SET released_at = $1
		WHERE payment_id = $2 AND released_at IS NULL`,
		releaseAt, paymentID,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (r *ReferenceRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*ReferenceReservation, error) {
	var res ReferenceReservation
	err := r.db.QueryRowContext(ctx,
		`SELECT method, reference, entity, payment_id, tenant_id, reserved_at, released_at
		FROM payment_references WHERE payment_id = $1
		ORDER BY reserved_at DESC LIMIT 1`, paymentID,
	).Scan(&res.Method, &res.Reference, &res.Entity, &res.PaymentID, &res.TenantID, &res.ReservedAt, &res.ReleasedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetByPaymentID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	return &res, nil
}
