package payment_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/lease"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/reference"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/approval"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/payment"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/sweeper"
	"github.com/josh-kwaku/supportdesk-payments/internal/testutil"
)

type stack struct {
	db         *sql.DB
	payments   *payment.Service
	approvals  *approval.Service
	store      *record.Store
	references *repository.ReferenceRepository
	notifier   *testutil.RecordingNotifier
}

type noCards struct{}

func (noCards) CreateIntent(context.Context, uuid.UUID) (*domain.PaymentRecord, error) {
	return nil, errors.New("card rail not wired in this test")
}

type noProofs struct{}

func (noProofs) Verify(string, uuid.UUID) error { return domain.ErrProofNotFound }

func setupStack(t *testing.T) *stack {
	t.Helper()
	db := testutil.SetupTestDB(t)

	payments := repository.NewPaymentRepository(db)
	references := repository.NewReferenceRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	n := &testutil.RecordingNotifier{}

	store := record.NewStore(repository.NewDB(db), payments, repository.NewPaymentEventRepository(db), references, invoices, n, 72*time.Hour)

	rails := config.DefaultRails()
	alloc := reference.NewAllocator(references, map[domain.Method]string{
		domain.MethodMobileMoney:      rails.MobileMoney.Entity,
		domain.MethodPaymentReference: rails.PaymentReference.Entity,
	}, 5)

	svc := payment.NewService(store, invoices, alloc, noProofs{}, noCards{}, rails, payment.TTLs{
		MobileMoney:          24 * time.Hour,
		BankTransferDays:     3,
		PaymentReferenceDays: 3,
		CardChallengeGrace:   15 * time.Minute,
	}, domain.CurrencyAOA)

	return &stack{
		db:         db,
		payments:   svc,
		approvals:  approval.NewService(store),
		store:      store,
		references: references,
		notifier:   n,
	}
}

// processingPayment creates a payment-reference payment and reports the
// customer's transfer so it awaits review.
func (s *stack) processingPayment(t *testing.T, inv *domain.Invoice) *domain.PaymentRecord {
	t.Helper()
	ctx := context.Background()
	p, _, err := s.payments.CreatePayment(ctx, payment.CreateRequest{
		TenantID: inv.TenantID, InvoiceID: inv.ID, Method: domain.MethodPaymentReference, Amount: inv.AmountDue,
	})
	require.NoError(t, err)

	p, err = s.approvals.SubmitConfirmation(ctx, approval.ConfirmRequest{
		PaymentID: p.ID, TenantID: inv.TenantID, TransactionID: "MCX-778812", ExpectedVersion: p.Version,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusProcessing, p.Status)
	return p
}

func TestPostgres_ConcurrentAllocationsAreDistinct(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	tenantID := uuid.New()

	const n = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		refs = map[string]bool{}
		errs []error
	)
	for range n {
		inv := testutil.SeedInvoice(t, s.db, tenantID, 15000)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := s.payments.CreatePayment(ctx, payment.CreateRequest{
				TenantID: tenantID, InvoiceID: inv.ID, Method: domain.MethodPaymentReference, Amount: 15000,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ref, _ := p.Reference()
			refs[ref] = true
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, refs, n)
}

func TestPostgres_ApprovalCreditsInvoiceAndHoldsReference(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	inv := testutil.SeedInvoice(t, s.db, uuid.New(), 15000)
	p := s.processingPayment(t, inv)

	decided, err := s.approvals.Decide(ctx, approval.DecideRequest{
		PaymentID: p.ID, Actor: "admin:ops", Decision: domain.DecisionApprove, ExpectedVersion: p.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, decided.Status)

	stored, err := repository.NewInvoiceRepository(s.db).GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), stored.AmountPaid)
	assert.Equal(t, domain.InvoiceStatusPaid, stored.Status)

	history, err := s.store.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.PaymentStatusApproved, history[3].ToStatus)

	ref, _ := decided.Reference()
	tx, err := s.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck
	held, err := s.references.IsHeld(ctx, tx, domain.MethodPaymentReference, ref, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, held, "reference stays held through the recycle window")
}

func TestPostgres_ConcurrentDecisionsOneWins(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	inv := testutil.SeedInvoice(t, s.db, uuid.New(), 15000)
	p := s.processingPayment(t, inv)

	decisions := []approval.DecideRequest{
		{PaymentID: p.ID, Actor: "admin:a", Decision: domain.DecisionApprove, ExpectedVersion: p.Version},
		{PaymentID: p.ID, Actor: "admin:b", Decision: domain.DecisionReject, Reason: "transfer never arrived", ExpectedVersion: p.Version},
	}
	results := make([]error, len(decisions))
	var wg sync.WaitGroup
	for i, req := range decisions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = s.approvals.Decide(ctx, req)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t,
			errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrInvalidTransition),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	history, err := s.store.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestPostgres_SweepExpiresAndReleasesReference(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	inv := testutil.SeedInvoice(t, s.db, uuid.New(), 15000)

	p, _, err := s.payments.CreatePayment(ctx, payment.CreateRequest{
		TenantID: inv.TenantID, InvoiceID: inv.ID, Method: domain.MethodPaymentReference, Amount: 15000,
	})
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE payments SET expires_at = now() - interval '1 minute' WHERE id = $1`, p.ID)
	require.NoError(t, err)

	sw := sweeper.New(s.store, lease.Local{}, logging.Discard(), sweeper.Config{Interval: time.Minute, BatchSize: 10, Concurrency: 2})
	expired, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := s.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, stored.Status)

	res, err := s.references.GetByPaymentID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, res.ReleasedAt)

	again, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Contains(t, s.notifier.Types(), domain.PaymentEventTypeExpired)
}
