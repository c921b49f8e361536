package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

var now = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

func TestBidRepositoryCAS(t *testing.T) {
	repo := NewBidRepository()
	ctx := context.Background()
	bid, err := domain.NewBid("b1", "buyer", "vendor", "p", domain.Terms{Amount: 10, Quantity: 1}, "", now, 0)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, bid))
	assert.EqualValues(t, 1, bid.Version)
	assert.ErrorIs(t, repo.Create(ctx, bid), domain.ErrConflict)

	a, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	b, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, a.Counter(domain.PartyVendor, domain.Terms{Amount: 12, Quantity: 1}, "", now))
	require.NoError(t, repo.Update(ctx, a, 1))
	assert.EqualValues(t, 2, a.Version)

	require.NoError(t, b.Reject(domain.PartyVendor, "late writer", now))
	assert.ErrorIs(t, repo.Update(ctx, b, 1), domain.ErrConflict)

	stored, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status())
	assert.Len(t, stored.CounterHistory, 1)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBidNotFound)
}

func TestBidRepositoryCounterHistoryIsAppendOnly(t *testing.T) {
	repo := NewBidRepository()
	ctx := context.Background()
	bid, err := domain.NewBid("b1", "buyer", "vendor", "p", domain.Terms{Amount: 10, Quantity: 1}, "", now, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, bid))
	require.NoError(t, bid.Counter(domain.PartyVendor, domain.Terms{Amount: 12, Quantity: 1}, "first", now))
	require.NoError(t, repo.Update(ctx, bid, 1))

	rewritten, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	rewritten.CounterHistory[0].Amount = 1
	assert.ErrorIs(t, repo.Update(ctx, rewritten, 2), domain.ErrConflict)

	truncated, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	truncated.CounterHistory = nil
	assert.ErrorIs(t, repo.Update(ctx, truncated, 2), domain.ErrConflict)

	extended, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	require.NoError(t, extended.Counter(domain.PartyBuyer, domain.Terms{Amount: 11, Quantity: 1}, "", now.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, extended, 2))

	stored, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, stored.CounterHistory, 2)
	assert.Equal(t, 12.0, stored.CounterHistory[0].Amount)
	assert.EqualValues(t, 3, stored.Version)
}

func TestBidRepositoryReturnsCopies(t *testing.T) {
	repo := NewBidRepository()
	ctx := context.Background()
	bid, err := domain.NewBid("b1", "buyer", "vendor", "p", domain.Terms{Amount: 10, Quantity: 1}, "", now, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, bid))

	got, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	got.Amount = 999

	again, err := repo.FindByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Amount)
}

func TestBidRepositoryListOverdue(t *testing.T) {
	repo := NewBidRepository()
	ctx := context.Background()
	for i, validity := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour, 48 * time.Hour} {
		bid, err := domain.NewBid(string(rune('a'+i)), "buyer", "vendor", "p", domain.Terms{Amount: 10, Quantity: 1}, "", now, validity)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, bid))
	}

	overdue, err := repo.ListOverdue(ctx, now.Add(4*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, "b", overdue[0].ID)
	assert.Equal(t, "c", overdue[1].ID)

	overdue, err = repo.ListOverdue(ctx, now.Add(4*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, overdue, 3)
}

func TestCatalogCommitIsCAS(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()
	require.NoError(t, c.PutProduct(ctx, "p", 5, true))

	avail, err := c.GetAvailability(ctx, "p")
	require.NoError(t, err)

	v, err := c.TryCommit(ctx, port.Reservation{ID: "r1", BidID: "b1", ProductID: "p", Quantity: 2, CreatedAt: now}, avail.Version)
	require.NoError(t, err)
	assert.Equal(t, avail.Version+1, v)

	_, err = c.TryCommit(ctx, port.Reservation{ID: "r2", BidID: "b2", ProductID: "p", Quantity: 1, CreatedAt: now}, avail.Version)
	assert.ErrorIs(t, err, port.ErrInventoryConflict)

	_, err = c.TryCommit(ctx, port.Reservation{ID: "r3", BidID: "b3", ProductID: "p", Quantity: 4, CreatedAt: now}, v)
	assert.ErrorIs(t, err, port.ErrInsufficientStock)

	_, err = c.TryCommit(ctx, port.Reservation{ID: "r4", ProductID: "nope", Quantity: 1}, 1)
	assert.ErrorIs(t, err, port.ErrProductNotFound)

	_, ok := c.Reservation("r2")
	assert.False(t, ok, "failed commits leave no journal entry")
	r1, ok := c.Reservation("r1")
	require.True(t, ok)
	assert.Equal(t, port.ReservationCommitted, r1.Status)
}

func TestCatalogConcurrentCommits(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()
	require.NoError(t, c.PutProduct(ctx, "p", 50, true))

	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				avail, err := c.GetAvailability(ctx, "p")
				if err != nil {
					return
				}
				_, err = c.TryCommit(ctx, port.Reservation{ID: fmt.Sprintf("r-%d", i), ProductID: "p", Quantity: 1}, avail.Version)
				if errors.Is(err, port.ErrInventoryConflict) {
					continue
				}
				if err == nil {
					mu.Lock()
					committed++
					mu.Unlock()
				}
				return
			}
		}(i)
	}
	wg.Wait()

	avail, err := c.GetAvailability(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 50, committed)
	assert.Equal(t, 0, avail.AvailableQuantity)
}

func TestCatalogListCommitted(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()
	require.NoError(t, c.PutProduct(ctx, "p", 10, true))

	for i, at := range []time.Time{now.Add(-time.Hour), now.Add(-2 * time.Hour), now.Add(time.Hour)} {
		avail, err := c.GetAvailability(ctx, "p")
		require.NoError(t, err)
		_, err = c.TryCommit(ctx, port.Reservation{ID: string(rune('x' + i)), ProductID: "p", Quantity: 1, CreatedAt: at}, avail.Version)
		require.NoError(t, err)
	}
	require.NoError(t, c.Settle(ctx, "x"))

	stale, err := c.ListCommitted(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "y", stale[0].ID)

	assert.ErrorIs(t, c.Settle(ctx, "missing"), port.ErrReservationNotFound)
}
