package reference

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
)

const (
	Length = 9

	prefixModulus = 1000
	suffixSpace   = 1_000_000
)

// epoch anchors the minute counter used for the reference prefix.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type reservationStore interface {
	IsHeld(ctx context.Context, tx *sql.Tx, method domain.Method, reference string, now time.Time) (bool, error)
	Reserve(ctx context.Context, tx *sql.Tx, res *repository.ReferenceReservation) (bool, error)
}

type Reference struct {
	Entity string
	Number string
}

type Allocator struct {
	store       reservationStore
	entities    map[domain.Method]string
	maxAttempts int
	now         func() time.Time
	random      io.Reader

	mu         sync.Mutex
	lastMinute int64
}

type Option func(*Allocator)

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.random = r }
}

func NewAllocator(store reservationStore, entities map[domain.Method]string, maxAttempts int, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		entities:    entities,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		random:      rand.Reader,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves a fresh reference for paymentID inside tx. The
// reservation commits or rolls back with the payment record.
func (a *Allocator) Allocate(ctx context.Context, tx *sql.Tx, method domain.Method, tenantID, paymentID uuid.UUID) (Reference, error) {
	if !method.RequiresReference() {
		return Reference{}, fmt.Errorf("Allocate: %s: %w", method, domain.ErrUnsupportedMethod)
	}
	log := logging.FromContext(ctx)
	entity := a.entities[method]

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		now := a.now()
		candidate, err := a.candidate(now)
		if err != nil {
			return Reference{}, fmt.Errorf("Allocate: %w", err)
		}

		held, err := a.store.IsHeld(ctx, tx, method, candidate, now)
		if err != nil {
			return Reference{}, fmt.Errorf("Allocate: %w", err)
		}
		if held {
			metrics.ReferenceCollisions.WithLabelValues(string(method)).Inc()
			log.Debug("reference collision", "method", method, "attempt", attempt)
			continue
		}

		reserved, err := a.store.Reserve(ctx, tx, &repository.ReferenceReservation{
			Method:     method,
			Reference:  candidate,
			Entity:     entity,
			PaymentID:  paymentID,
			TenantID:   tenantID,
			ReservedAt: now,
		})
		if err != nil {
			return Reference{}, fmt.Errorf("Allocate: %w", err)
		}
		if !reserved {
			metrics.ReferenceCollisions.WithLabelValues(string(method)).Inc()
			continue
		}

		return Reference{Entity: entity, Number: candidate}, nil
	}

	metrics.ReferenceExhausted.WithLabelValues(string(method)).Inc()
	log.Error("reference allocation exhausted",
		slog.String("method", string(method)),
		slog.Int("attempts", a.maxAttempts),
		slog.String("tenant_id", tenantID.String()),
	)
	return Reference{}, fmt.Errorf("Allocate: %w", domain.ErrAllocationExhausted)
}

func (a *Allocator) candidate(now time.Time) (string, error) {
	suffix, err := rand.Int(a.random, big.NewInt(suffixSpace))
	if err != nil {
		return "", fmt.Errorf("candidate: %w", err)
	}
	return fmt.Sprintf("%03d%06d", a.prefix(now), suffix.Int64()), nil
}

// prefix is minutes since epoch modulo 1000. The minute counter never moves
// backwards within a process, even if the wall clock does.
func (a *Allocator) prefix(now time.Time) int64 {
	minute := int64(now.Sub(epoch) / time.Minute)

	a.mu.Lock()
	defer a.mu.Unlock()
	if minute < a.lastMinute {
		minute = a.lastMinute
	}
	a.lastMinute = minute
	return minute % prefixModulus
}
