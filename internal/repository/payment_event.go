package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

const paymentEventColumns = `id, payment_id, event_type, from_status, to_status, version, actor, payload, created_at`

type PaymentEventRepository struct {
	db *sql.DB
}

func NewPaymentEventRepository(db *sql.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) error {
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (`+paymentEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.PaymentID, event.EventType, event.FromStatus, event.ToStatus,
		event.Version, event.Actor, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentEventRepository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentEventColumns+` FROM payment_events
		WHERE payment_id = $1 ORDER BY version, created_at`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByPaymentID: %w", err)
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		e, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByPaymentID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByPaymentID: rows: %w", err)
	}
	return events, nil
}

func scanPaymentEvent(s scanner) (*domain.PaymentEvent, error) {
	var e domain.PaymentEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.PaymentID, &e.EventType, &e.FromStatus, &e.ToStatus,
		&e.Version, &e.Actor, &payload, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
