package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockPersister records every snapshot write and can be told to fail or to
// stall, to simulate slow profile-store round trips.
type mockPersister struct {
	mu        sync.Mutex
	saves     []domain.Cart
	failNext  bool
	saveDelay time.Duration
}

func (m *mockPersister) SaveCart(_ context.Context, _ string, snapshot domain.Cart) error {
	if m.saveDelay > 0 {
		time.Sleep(m.saveDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("profile store unavailable")
	}
	m.saves = append(m.saves, snapshot)
	return nil
}

func (m *mockPersister) saved() []domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Cart, len(m.saves))
	copy(out, m.saves)
	return out
}

func newTestAggregate(p Persister) *Aggregate {
	return NewAggregate("buyer-1", domain.Cart{}, p, slog.New(slog.DiscardHandler))
}

func TestAdd_OptimisticThenPersisted(t *testing.T) {
	persister := &mockPersister{saveDelay: 20 * time.Millisecond}
	agg := newTestAggregate(persister)
	defer agg.Close()

	got := agg.Add("listing-a", 2, 10, nil)

	// Local state reflects the mutation before the write settles.
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Empty(t, persister.saved(), "persistence has not finished yet")

	agg.Flush()

	saves := persister.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, got.Items, saves[0].Items, "full snapshot is written, not a delta")
}

func TestAdd_RollbackOnPersistenceFailure(t *testing.T) {
	persister := &mockPersister{failNext: true}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 10, nil)
	agg.Flush()

	assert.Empty(t, agg.Snapshot().Items, "failed write reverts the optimistic mutation")
}

func TestMutations_PersistInOrder(t *testing.T) {
	persister := &mockPersister{saveDelay: 10 * time.Millisecond}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 10, nil)
	agg.Add("listing-b", 1, 10, nil)
	agg.Flush()

	saves := persister.saved()
	require.Len(t, saves, 2)
	require.Len(t, saves[0].Items, 1)
	assert.Equal(t, "listing-a", saves[0].Items[0].ListingID)
	require.Len(t, saves[1].Items, 2)
	assert.Equal(t, "listing-b", saves[1].Items[1].ListingID)
}

func TestSetQuantity_ClampsToStockAndCap(t *testing.T) {
	persister := &mockPersister{}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 5, nil)

	got := agg.SetQuantity("listing-a", 50, 5)
	assert.Equal(t, 5, got.Items[0].Quantity, "clamped to stock")

	got = agg.SetQuantity("listing-a", 500, 1000)
	assert.Equal(t, 100, got.Items[0].Quantity, "clamped to the hard cap")

	agg.Flush()
}

func TestRemove(t *testing.T) {
	persister := &mockPersister{}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 10, nil)
	agg.Add("listing-b", 1, 10, nil)
	got := agg.Remove("listing-a")

	require.Len(t, got.Items, 1)
	assert.Equal(t, "listing-b", got.Items[0].ListingID)
	agg.Flush()
}

func TestClear_IsLocalOnly(t *testing.T) {
	persister := &mockPersister{}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 10, nil)
	agg.Flush()
	writesBefore := len(persister.saved())

	got := agg.Clear()

	assert.Empty(t, got.Items)
	agg.Flush()
	assert.Len(t, persister.saved(), writesBefore, "clear must not issue a persistence write")
}

func TestAdd_ExistingListingBumpsQuantity(t *testing.T) {
	persister := &mockPersister{}
	agg := newTestAggregate(persister)
	defer agg.Close()

	agg.Add("listing-a", 1, 10, nil)
	got := agg.Add("listing-a", 2, 10, nil)

	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
	agg.Flush()
}
