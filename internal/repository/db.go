package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type scanner interface {
	Scan(dest ...any) error
}

type DB struct {
	pool *sql.DB
}

func NewDB(pool *sql.DB) *DB {
	return &DB{pool: pool}
}

func (d *DB) Conn() *sql.DB {
	return d.pool
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithTx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithTx: commit: %w", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.pool.PingContext(ctx)
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
