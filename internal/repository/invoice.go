package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

const invoiceColumns = `id, tenant_id, amount_due, amount_paid, currency, status, created_at, updated_at`

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.TenantID, inv.AmountDue, inv.AmountPaid, inv.Currency, inv.Status, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id,
	)
	var inv domain.Invoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.AmountDue, &inv.AmountPaid, &inv.Currency, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &inv, nil
}

// Credit adds amount to the invoice's paid total, flipping it to paid once
// the due amount is covered.
func (r *InvoiceRepository) Credit(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE invoices SET
			amount_paid = amount_paid + $1,
			status = CASE WHEN amount_paid + $1 >= amount_due THEN 'paid' ELSE 'open' END,
			updated_at = now()
		WHERE id = $2`,
		amount, id,
	)
	if err != nil {
		return fmt.Errorf("Credit: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Credit: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Credit: %w", domain.ErrNotFound)
	}
	return nil
}
