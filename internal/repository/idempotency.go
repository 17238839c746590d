package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotencyCacheEntry is the stored response for one caller's
// Idempotency-Key.
type IdempotencyCacheEntry struct {
	Key          string
	UserID       uuid.UUID
	Method       string
	Path         string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the live entry for key, or nil when there is none.
func (r *IdempotencyRepository) Get(ctx context.Context, key string, userID uuid.UUID) (*IdempotencyCacheEntry, error) {
	var e IdempotencyCacheEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT idempotency_key, user_id, method, path, request_hash, status_code, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND user_id = $2 AND expires_at > now()`,
		key, userID,
	).Scan(&e.Key, &e.UserID, &e.Method, &e.Path, &e.RequestHash, &e.StatusCode, &e.ResponseBody, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &e, nil
}

// Set stores entry. An expired row under the same key is replaced; a live one
// is kept, so the first completed response wins.
func (r *IdempotencyRepository) Set(ctx context.Context, entry *IdempotencyCacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys
			(idempotency_key, user_id, method, path, request_hash, status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key, user_id) DO UPDATE SET
			method = EXCLUDED.method,
			path = EXCLUDED.path,
			request_hash = EXCLUDED.request_hash,
			status_code = EXCLUDED.status_code,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= now()`,
		entry.Key, entry.UserID, entry.Method, entry.Path, entry.RequestHash,
		entry.StatusCode, entry.ResponseBody, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("Set: %w", err)
	}
	return nil
}

// Purge deletes up to limit entries that expired before cutoff and reports
// how many went.
func (r *IdempotencyRepository) Purge(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		WHERE ctid IN (
			SELECT ctid FROM idempotency_keys WHERE expires_at < $1 LIMIT $2
		)`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Purge: rows affected: %w", err)
	}
	return n, nil
}
