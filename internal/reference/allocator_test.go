package reference

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
)

type heldKey struct {
	method    domain.Method
	reference string
}

type fakeStore struct {
	held     map[heldKey]bool
	lost     int
	reserved []*repository.ReferenceReservation
}

func newFakeStore() *fakeStore {
	return &fakeStore{held: map[heldKey]bool{}}
}

func (f *fakeStore) IsHeld(_ context.Context, _ *sql.Tx, method domain.Method, reference string, _ time.Time) (bool, error) {
	return f.held[heldKey{method, reference}], nil
}

func (f *fakeStore) Reserve(_ context.Context, _ *sql.Tx, res *repository.ReferenceReservation) (bool, error) {
	if f.lost > 0 {
		f.lost--
		return false, nil
	}
	k := heldKey{res.Method, res.Reference}
	if f.held[k] {
		return false, nil
	}
	f.held[k] = true
	f.reserved = append(f.reserved, res)
	return true, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

var entities = map[domain.Method]string{
	domain.MethodPaymentReference: "11604",
	domain.MethodMobileMoney:      "11604",
}

func TestAllocate_Format(t *testing.T) {
	store := newFakeStore()
	a := NewAllocator(store, entities, 5, WithClock(func() time.Time { return fixedNow }))

	ref, err := a.Allocate(context.Background(), nil, domain.MethodPaymentReference, uuid.New(), uuid.New())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{9}$`), ref.Number)
	assert.Len(t, ref.Number, Length)
	assert.Equal(t, "11604", ref.Entity)
	require.Len(t, store.reserved, 1)
	assert.Equal(t, ref.Number, store.reserved[0].Reference)
}

func TestAllocate_UniqueAcrossMany(t *testing.T) {
	store := newFakeStore()
	a := NewAllocator(store, entities, 5, WithClock(func() time.Time { return fixedNow }))

	seen := map[string]bool{}
	for range 500 {
		ref, err := a.Allocate(context.Background(), nil, domain.MethodMobileMoney, uuid.New(), uuid.New())
		require.NoError(t, err)
		require.False(t, seen[ref.Number], "duplicate reference %s", ref.Number)
		seen[ref.Number] = true
	}
}

func TestAllocate_ExhaustsOnPersistentCollision(t *testing.T) {
	store := newFakeStore()
	a := NewAllocator(store, entities, 3,
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(zeroReader{}),
	)

	first, err := a.Allocate(context.Background(), nil, domain.MethodPaymentReference, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "000000", first.Number[3:])

	_, err = a.Allocate(context.Background(), nil, domain.MethodPaymentReference, uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrAllocationExhausted)
}

func TestAllocate_RetriesLostRace(t *testing.T) {
	store := newFakeStore()
	store.lost = 2
	a := NewAllocator(store, entities, 3, WithClock(func() time.Time { return fixedNow }))

	_, err := a.Allocate(context.Background(), nil, domain.MethodPaymentReference, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, store.reserved, 1)
}

func TestAllocate_SameNumberDifferentMethods(t *testing.T) {
	store := newFakeStore()
	a := NewAllocator(store, entities, 1,
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(zeroReader{}),
	)

	a1, err := a.Allocate(context.Background(), nil, domain.MethodPaymentReference, uuid.New(), uuid.New())
	require.NoError(t, err)
	a2, err := a.Allocate(context.Background(), nil, domain.MethodMobileMoney, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, a1.Number, a2.Number)
}

func TestAllocate_RejectsCard(t *testing.T) {
	a := NewAllocator(newFakeStore(), entities, 5)
	_, err := a.Allocate(context.Background(), nil, domain.MethodCard, uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrUnsupportedMethod)
}

func TestPrefix_Monotonic(t *testing.T) {
	a := NewAllocator(newFakeStore(), entities, 1)

	later := a.prefix(fixedNow)
	earlier := a.prefix(fixedNow.Add(-10 * time.Minute))
	assert.Equal(t, later, earlier, "clock moving backwards must not lower the prefix")

	next := a.prefix(fixedNow.Add(time.Minute))
	assert.Equal(t, (later+1)%prefixModulus, next)
}
