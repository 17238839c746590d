package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

const webhookEventColumns = `id, provider_event_id, event_type, payment_id, payload, status,
	attempts, last_attempt, last_error, created_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores a new gateway event. It returns false without error when an
// event with the same provider id already exists.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (`+webhookEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.ProviderEventID, event.EventType, event.PaymentID, []byte(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.LastError, event.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("Create: %w", err)
	}
	return true, nil
}

// GetPending returns events still pending that were received before cutoff.
func (r *WebhookEventRepository) GetPending(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = $1 AND created_at <= $2 AND attempts < $3
		ORDER BY created_at LIMIT $4`,
		domain.WebhookEventStatusPending, cutoff, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return events, nil
}

// MarkAttempt records a processing attempt and its outcome.
func (r *WebhookEventRepository) MarkAttempt(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus, lastErr *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, attempts = attempts + 1, last_attempt = now(), last_error = $2
		WHERE id = $3`,
		status, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("MarkAttempt: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkAttempt: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkAttempt: %w", domain.ErrNotFound)
	}
	return nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.ProviderEventID, &e.EventType, &e.PaymentID, &payload, &e.Status,
		&e.Attempts, &e.LastAttempt, &e.LastError, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
