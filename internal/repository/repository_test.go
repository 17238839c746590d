package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/internal/testutil"
	"github.com/josh-kwaku/supportdesk-payments/migrations"
)

func TestPostgres(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	t.Run("migrate is a no-op when up to date", func(t *testing.T) {
		applied, err := repository.Migrate(ctx, db, migrations.FS)
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	t.Run("stale version update conflicts", func(t *testing.T) {
		inv := testutil.SeedInvoice(t, db, uuid.New(), 5000)
		p := testutil.SeedPayment(t, db, inv, domain.PaymentStatusPending, time.Now().Add(time.Hour))
		repo := repository.NewPaymentRepository(db)
		tx := repository.NewDB(db)

		first := *p
		require.NoError(t, first.Transition(domain.PaymentStatusProcessing, time.Now().UTC()))
		require.NoError(t, tx.WithTx(ctx, func(tx *sql.Tx) error { return repo.Update(ctx, tx, &first) }))

		second := *p
		require.NoError(t, second.Transition(domain.PaymentStatusExpired, time.Now().UTC()))
		err := tx.WithTx(ctx, func(tx *sql.Tx) error { return repo.Update(ctx, tx, &second) })
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)

		stored, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusProcessing, stored.Status)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("list expirable skips terminal and future", func(t *testing.T) {
		inv := testutil.SeedInvoice(t, db, uuid.New(), 5000)
		past := time.Now().Add(-time.Hour)
		due := testutil.SeedPayment(t, db, inv, domain.PaymentStatusPending, past)
		testutil.SeedPayment(t, db, inv, domain.PaymentStatusApproved, past)
		testutil.SeedPayment(t, db, inv, domain.PaymentStatusPending, time.Now().Add(time.Hour))

		got, err := repository.NewPaymentRepository(db).ListExpirable(ctx, time.Now().UTC(), 100)
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, p := range got {
			ids = append(ids, p.ID)
		}
		assert.Contains(t, ids, due.ID)
		for _, p := range got {
			assert.True(t, p.Status.IsLive())
		}
	})

	t.Run("webhook events dedup by provider id", func(t *testing.T) {
		repo := repository.NewWebhookEventRepository(db)
		payload, _ := json.Marshal(map[string]string{"id": "evt_1"})
		event := func() *domain.WebhookEvent {
			return &domain.WebhookEvent{
				ID:              uuid.New(),
				ProviderEventID: "evt_dedup",
				EventType:       domain.WebhookEventTypeIntentSucceeded,
				Payload:         payload,
				Status:          domain.WebhookEventStatusPending,
				CreatedAt:       time.Now().Add(-time.Minute).UTC(),
			}
		}

		first := event()
		inserted, err := repo.Create(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.Create(ctx, event())
		require.NoError(t, err)
		assert.False(t, inserted)

		pending, err := repo.GetPending(ctx, time.Now().UTC(), 5, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, repo.MarkAttempt(ctx, first.ID, domain.WebhookEventStatusProcessed, nil))
		pending, err = repo.GetPending(ctx, time.Now().UTC(), 5, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("idempotency entries purge once expired", func(t *testing.T) {
		repo := repository.NewIdempotencyRepository(db)
		userID := uuid.New()
		now := time.Now().UTC()

		require.NoError(t, repo.Set(ctx, &repository.IdempotencyCacheEntry{
			Key: "live", UserID: userID, Method: "POST", Path: "/api/v1/payments",
			RequestHash: "h", StatusCode: 201, ResponseBody: []byte(`{}`),
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
		require.NoError(t, repo.Set(ctx, &repository.IdempotencyCacheEntry{
			Key: "stale", UserID: userID, Method: "POST", Path: "/api/v1/payments",
			RequestHash: "h", StatusCode: 201, ResponseBody: []byte(`{}`),
			CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
		}))

		live, err := repo.Get(ctx, "live", userID)
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.Equal(t, 201, live.StatusCode)

		stale, err := repo.Get(ctx, "stale", userID)
		require.NoError(t, err)
		assert.Nil(t, stale)

		n, err := repo.Purge(ctx, now, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
