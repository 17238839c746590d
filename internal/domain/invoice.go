package domain

import (
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "open"
	InvoiceStatusPaid InvoiceStatus = "paid"
)

// Invoice is the subscription invoice a payment settles. Amounts are in minor
// units of Currency.
type Invoice struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	AmountDue  int64
	AmountPaid int64
	Currency   Currency
	Status     InvoiceStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *Invoice) Outstanding() int64 {
	if i.AmountPaid >= i.AmountDue {
		return 0
	}
	return i.AmountDue - i.AmountPaid
}
