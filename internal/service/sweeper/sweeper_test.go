package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/lease"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
	"github.com/josh-kwaku/supportdesk-payments/internal/testutil"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type deniedLease struct{}

func (deniedLease) Acquire(context.Context, time.Duration) (bool, error) { return false, nil }
func (deniedLease) Release(context.Context) error                        { return nil }

// racingStore runs hook after listing, before any record is saved.
type racingStore struct {
	*record.Store
	hook func()
}

func (r *racingStore) ListExpirable(ctx context.Context, at time.Time, limit int) ([]*domain.PaymentRecord, error) {
	out, err := r.Store.ListExpirable(ctx, at, limit)
	if r.hook != nil {
		r.hook()
		r.hook = nil
	}
	return out, err
}

type fixture struct {
	mem      *testutil.Memory
	store    *record.Store
	notifier *testutil.RecordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := testutil.NewMemory()
	n := &testutil.RecordingNotifier{}
	return &fixture{
		mem:      mem,
		store:    record.NewStore(mem, mem, mem.EventRepo(), mem, mem.InvoiceRepo(), n, 72*time.Hour),
		notifier: n,
	}
}

func (f *fixture) put(method domain.Method, status domain.PaymentStatus, expiresAt time.Time) *domain.PaymentRecord {
	var details domain.MethodDetails
	switch method {
	case domain.MethodCard:
		details = &domain.CardDetails{PaymentMethodToken: "pm", IntentID: "pi_" + uuid.NewString(), State: domain.CardStateRequiresAction}
	case domain.MethodBankTransfer:
		details = &domain.BankTransferDetails{ReferenceNo: "100000001", ProofHandle: "p/x.pdf"}
	default:
		details = &domain.PaymentReferenceDetails{Entity: "11604", ReferenceNo: "100000002"}
	}
	p := &domain.PaymentRecord{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		InvoiceID: uuid.New(),
		Method:    method,
		Amount:    1000,
		Currency:  domain.CurrencyAOA,
		Status:    status,
		Details:   details,
		ExpiresAt: expiresAt,
		Version:   2,
		CreatedAt: expiresAt.Add(-time.Hour),
		UpdatedAt: expiresAt.Add(-time.Hour),
	}
	f.mem.PutPayment(p)
	f.mem.PutInvoice(&domain.Invoice{ID: p.InvoiceID, TenantID: p.TenantID, AmountDue: p.Amount, Currency: p.Currency, Status: domain.InvoiceStatusOpen})
	return p
}

func (f *fixture) status(t *testing.T, id uuid.UUID) domain.PaymentStatus {
	t.Helper()
	p, err := f.mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func newSweeper(store recordStore, l lease.Lease, batch int) *Sweeper {
	s := New(store, l, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Interval: time.Minute, BatchSize: batch, Concurrency: 4})
	s.now = func() time.Time { return now }
	return s
}

func TestSweepOnce_ExpiresDueRecords(t *testing.T) {
	f := newFixture(t)
	pending := f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(-time.Minute))
	review := f.put(domain.MethodBankTransfer, domain.PaymentStatusProcessing, now)
	card := f.put(domain.MethodCard, domain.PaymentStatusCreated, now.Add(-time.Second))
	notDue := f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(time.Second))
	approved := f.put(domain.MethodPaymentReference, domain.PaymentStatusApproved, now.Add(-time.Hour))

	n, err := newSweeper(f.store, lease.Local{}, 2).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, domain.PaymentStatusExpired, f.status(t, pending.ID))
	assert.Equal(t, domain.PaymentStatusExpired, f.status(t, review.ID))
	assert.Equal(t, domain.PaymentStatusFailed, f.status(t, card.ID))
	assert.Equal(t, domain.PaymentStatusPending, f.status(t, notDue.ID))
	assert.Equal(t, domain.PaymentStatusApproved, f.status(t, approved.ID))

	events := f.mem.Events(pending.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActorSweeper, events[0].Actor)
	assert.Len(t, f.notifier.Events(), 3)
}

func TestSweepOnce_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(-time.Minute))
	s := newSweeper(f.store, lease.Local{}, 10)

	first, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	second, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Zero(t, second)
	assert.Len(t, f.notifier.Events(), 1)
}

func TestSweepOnce_ReleasesReferenceImmediately(t *testing.T) {
	f := newFixture(t)
	p := f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(-time.Minute))
	ok, err := f.mem.Reserve(context.Background(), nil, &repository.ReferenceReservation{
		Method:     p.Method,
		Reference:  "100000002",
		Entity:     "11604",
		PaymentID:  p.ID,
		TenantID:   p.TenantID,
		ReservedAt: p.CreatedAt,
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = newSweeper(f.store, lease.Local{}, 10).SweepOnce(context.Background())
	require.NoError(t, err)

	held, err := f.mem.IsHeld(context.Background(), nil, domain.MethodPaymentReference, "100000002", now)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSweepOnce_LosesRaceToApproval(t *testing.T) {
	f := newFixture(t)
	p := f.put(domain.MethodBankTransfer, domain.PaymentStatusProcessing, now.Add(-time.Minute))

	store := &racingStore{Store: f.store}
	store.hook = func() {
		fresh, err := f.mem.GetByID(context.Background(), p.ID)
		require.NoError(t, err)
		from := fresh.Status
		require.NoError(t, fresh.Decide(domain.DecisionApprove, "admin@acme", "", now))
		require.NoError(t, f.store.Save(context.Background(), fresh, record.Change{From: from, Actor: "admin@acme"}))
	}

	n, err := newSweeper(store, lease.Local{}, 10).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, domain.PaymentStatusApproved, f.status(t, p.ID))
	assert.Equal(t, []domain.PaymentEventType{domain.PaymentEventTypeApproved}, f.notifier.Types())
}

func TestSweepOnce_SkipsWithoutLease(t *testing.T) {
	f := newFixture(t)
	p := f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(-time.Minute))

	n, err := newSweeper(f.store, deniedLease{}, 10).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.PaymentStatusPending, f.status(t, p.ID))
}

func TestSweepOnce_StopsOnStuckBatch(t *testing.T) {
	f := newFixture(t)
	f.put(domain.MethodPaymentReference, domain.PaymentStatusPending, now.Add(-time.Minute))
	f.mem.FailUpdate = errors.New("connection reset")

	n, err := newSweeper(f.store, lease.Local{}, 1).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
