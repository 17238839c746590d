package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
)

// SeedInvoice inserts an open invoice for tenantID.
func SeedInvoice(t *testing.T, db *sql.DB, tenantID uuid.UUID, amountDue int64) *domain.Invoice {
	t.Helper()

	now := time.Now().UTC()
	inv := &domain.Invoice{
		ID:        uuid.New(),
		TenantID:  tenantID,
		AmountDue: amountDue,
		Currency:  domain.CurrencyAOA,
		Status:    domain.InvoiceStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repository.NewInvoiceRepository(db).Create(context.Background(), inv); err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return inv
}

// SeedPayment inserts a payment-reference record in status for inv with the
// given deadline. No reference is reserved.
func SeedPayment(t *testing.T, db *sql.DB, inv *domain.Invoice, status domain.PaymentStatus, expiresAt time.Time) *domain.PaymentRecord {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.PaymentRecord{
		ID:        uuid.New(),
		TenantID:  inv.TenantID,
		InvoiceID: inv.ID,
		Method:    domain.MethodPaymentReference,
		Amount:    inv.Outstanding(),
		Currency:  inv.Currency,
		Status:    status,
		Details:   &domain.PaymentReferenceDetails{Entity: "11604"},
		ExpiresAt: expiresAt,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := repository.NewDB(db).WithTx(context.Background(), func(tx *sql.Tx) error {
		return repository.NewPaymentRepository(db).Create(context.Background(), tx, p)
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}
