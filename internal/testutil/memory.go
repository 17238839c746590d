package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
)

// Memory is an in-process stand-in for the Postgres repositories. It honours
// the version compare-and-swap and rolls back every change made inside a
// failed WithTx.
type Memory struct {
	// txMu serialises transactions so a rollback never discards another
	// transaction's committed writes.
	txMu     sync.Mutex
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.PaymentRecord
	events   []domain.PaymentEvent
	refs     []repository.ReferenceReservation
	invoices map[uuid.UUID]*domain.Invoice
	webhooks map[string]*domain.WebhookEvent

	// FailUpdate, when set, is returned by the next Update call.
	FailUpdate error
}

func NewMemory() *Memory {
	return &Memory{
		payments: map[uuid.UUID]*domain.PaymentRecord{},
		invoices: map[uuid.UUID]*domain.Invoice{},
		webhooks: map[string]*domain.WebhookEvent{},
	}
}

type memSnapshot struct {
	payments map[uuid.UUID]*domain.PaymentRecord
	events   []domain.PaymentEvent
	refs     []repository.ReferenceReservation
	invoices map[uuid.UUID]*domain.Invoice
}

func (m *Memory) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		payments: make(map[uuid.UUID]*domain.PaymentRecord, len(m.payments)),
		events:   slices.Clone(m.events),
		refs:     slices.Clone(m.refs),
		invoices: make(map[uuid.UUID]*domain.Invoice, len(m.invoices)),
	}
	for k, v := range m.payments {
		s.payments[k] = clonePayment(v)
	}
	for k, v := range m.invoices {
		inv := *v
		s.invoices[k] = &inv
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = s.payments
	m.events = s.events
	m.refs = s.refs
	m.invoices = s.invoices
}

func (m *Memory) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func clonePayment(p *domain.PaymentRecord) *domain.PaymentRecord {
	cp := *p
	if p.Details != nil {
		raw, err := domain.MarshalDetails(p.Details)
		if err != nil {
			panic(err)
		}
		cp.Details, err = domain.UnmarshalDetails(p.Method, raw)
		if err != nil {
			panic(err)
		}
	}
	return &cp
}

// PutPayment stores p as-is, bypassing the version check.
func (m *Memory) PutPayment(p *domain.PaymentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = clonePayment(p)
}

func (m *Memory) PutInvoice(inv *domain.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
}

func (m *Memory) Invoice(id uuid.UUID) *domain.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok {
		cp := *inv
		return &cp
	}
	return nil
}

func (m *Memory) Events(paymentID uuid.UUID) []domain.PaymentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentEvent
	for _, e := range m.events {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) Reservations() []repository.ReferenceReservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.refs)
}

// Payment repository

func (m *Memory) Create(_ context.Context, _ *sql.Tx, p *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return fmt.Errorf("Create: duplicate payment %s", p.ID)
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
	}
	return clonePayment(p), nil
}

func (m *Memory) GetByIntentID(_ context.Context, intentID string) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if card, ok := p.Details.(*domain.CardDetails); ok && card.IntentID == intentID {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("GetByIntentID: %w", domain.ErrNotFound)
}

func (m *Memory) Update(_ context.Context, _ *sql.Tx, p *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate != nil {
		err := m.FailUpdate
		m.FailUpdate = nil
		return err
	}
	cur, ok := m.payments[p.ID]
	if !ok || cur.Version != p.Version-1 {
		return fmt.Errorf("Update: %w", domain.ErrConcurrentModification)
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *Memory) ListExpirable(_ context.Context, now time.Time, limit int) ([]*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PaymentRecord
	for _, p := range m.payments {
		if p.Status.IsLive() && !now.Before(p.ExpiresAt) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) HasProofHandle(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if bt, ok := p.Details.(*domain.BankTransferDetails); ok && bt.ProofHandle == handle {
			return true, nil
		}
	}
	return false, nil
}

// Event repository. Exposed through EventRepo because Create collides with
// the payment repository method set.

type MemoryEvents struct{ m *Memory }

func (m *Memory) EventRepo() *MemoryEvents { return &MemoryEvents{m: m} }

func (e *MemoryEvents) Create(_ context.Context, _ *sql.Tx, event *domain.PaymentEvent) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	for _, existing := range e.m.events {
		if existing.PaymentID == event.PaymentID && existing.Version == event.Version {
			return fmt.Errorf("Create: duplicate event version %d", event.Version)
		}
	}
	e.m.events = append(e.m.events, *event)
	return nil
}

func (e *MemoryEvents) ListByPaymentID(_ context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	return e.m.Events(paymentID), nil
}

// Reference repository

func (m *Memory) IsHeld(_ context.Context, _ *sql.Tx, method domain.Method, reference string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refs {
		if r.Method == method && r.Reference == reference && (r.ReleasedAt == nil || r.ReleasedAt.After(now)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Reserve(_ context.Context, _ *sql.Tx, res *repository.ReferenceReservation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refs {
		if r.Method == res.Method && r.Reference == res.Reference && r.ReleasedAt == nil {
			return false, nil
		}
	}
	m.refs = append(m.refs, *res)
	return true, nil
}

func (m *Memory) Release(_ context.Context, _ *sql.Tx, paymentID uuid.UUID, releaseAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.refs {
		if m.refs[i].PaymentID == paymentID && m.refs[i].ReleasedAt == nil {
			at := releaseAt
			m.refs[i].ReleasedAt = &at
		}
	}
	return nil
}

// Invoice repository. Exposed through InvoiceRepo for the same reason as
// events.

type MemoryInvoices struct{ m *Memory }

func (m *Memory) InvoiceRepo() *MemoryInvoices { return &MemoryInvoices{m: m} }

func (i *MemoryInvoices) GetByID(_ context.Context, id uuid.UUID) (*domain.Invoice, error) {
	if inv := i.m.Invoice(id); inv != nil {
		return inv, nil
	}
	return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
}

func (i *MemoryInvoices) Credit(_ context.Context, _ *sql.Tx, id uuid.UUID, amount int64) error {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	inv, ok := i.m.invoices[id]
	if !ok {
		return fmt.Errorf("Credit: %w", domain.ErrNotFound)
	}
	inv.AmountPaid += amount
	if inv.AmountPaid >= inv.AmountDue {
		inv.Status = domain.InvoiceStatusPaid
	}
	return nil
}

// Webhook event repository

type MemoryWebhooks struct{ m *Memory }

func (m *Memory) WebhookRepo() *MemoryWebhooks { return &MemoryWebhooks{m: m} }

func (w *MemoryWebhooks) Create(_ context.Context, event *domain.WebhookEvent) (bool, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if _, ok := w.m.webhooks[event.ProviderEventID]; ok {
		return false, nil
	}
	cp := *event
	w.m.webhooks[event.ProviderEventID] = &cp
	return true, nil
}

func (w *MemoryWebhooks) GetPending(_ context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	var out []domain.WebhookEvent
	for _, k := range slices.Sorted(maps.Keys(w.m.webhooks)) {
		e := w.m.webhooks[k]
		if e.Status == domain.WebhookEventStatusPending && !e.CreatedAt.After(cutoff) && e.Attempts < maxAttempts {
			out = append(out, *e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *MemoryWebhooks) MarkAttempt(_ context.Context, id uuid.UUID, status domain.WebhookEventStatus, lastErr *string) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	for _, e := range w.m.webhooks {
		if e.ID == id {
			e.Status = status
			e.Attempts++
			e.LastError = lastErr
			now := time.Now().UTC()
			e.LastAttempt = &now
			return nil
		}
	}
	return fmt.Errorf("MarkAttempt: %w", domain.ErrNotFound)
}

func (w *MemoryWebhooks) Get(providerEventID string) *domain.WebhookEvent {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if e, ok := w.m.webhooks[providerEventID]; ok {
		cp := *e
		return &cp
	}
	return nil
}
