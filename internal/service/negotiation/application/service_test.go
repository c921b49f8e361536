package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

func TestNegotiateThenAcceptUsesLiveTerms(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()

	bid := h.createBid(t, "buyer-1", 100, 2)
	assert.Equal(t, domain.PartyVendor, bid.AwaitingAction)

	h.clock.Advance(time.Hour)
	countered, err := h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "vendor-1", Amount: 110, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.PartyBuyer, countered.AwaitingAction)
	assert.Len(t, countered.CounterHistory, 1)

	h.clock.Advance(time.Hour)
	resp, err := h.svc.AcceptBid(ctx, bid.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, resp.Bid.Status)
	require.NotNil(t, resp.Bid.Agreement)
	assert.Equal(t, 110.0, resp.Bid.Agreement.Amount)
	assert.Equal(t, 220.0, resp.Bid.Agreement.Total)
	assert.Equal(t, h.clock.Now(), resp.Bid.Agreement.ConfirmedAt)

	orders := h.orders.Created()
	require.Len(t, orders, 1)
	assert.Equal(t, 110.0, orders[0].UnitPrice)
	assert.Equal(t, 2, orders[0].Quantity)
	invoices := h.invoices.Created()
	require.Len(t, invoices, 1)
	assert.Equal(t, 220.0, invoices[0].Total)
	assert.Equal(t, resp.OrderID, invoices[0].OrderID)

	assert.Equal(t, 8, h.available(t))

	stored, err := h.repo.FindByID(ctx, bid.ID)
	require.NoError(t, err)
	a := stored.Agreement()
	require.NotNil(t, a)
	res, ok := h.catalog.Reservation(a.ReservationID)
	require.True(t, ok)
	assert.Equal(t, port.ReservationSettled, res.Status)

	h.events.Wait()
	assert.Equal(t, 2, h.notifier.Count(domain.EventBidCreated))
	assert.Equal(t, 2, h.notifier.Count(domain.EventBidCountered))
	assert.Equal(t, 2, h.notifier.Count(domain.EventBidAccepted))
}

func TestCreateBidChecks(t *testing.T) {
	h := newHarness(t, 3, 0)
	ctx := context.Background()

	_, err := h.svc.CreateBid(ctx, &CreateBidRequest{BuyerID: "b", VendorID: "v", ProductID: testProduct, Amount: 10, Quantity: 4})
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	_, err = h.svc.CreateBid(ctx, &CreateBidRequest{BuyerID: "b", VendorID: "v", ProductID: "missing", Amount: 10, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	_, err = h.svc.CreateBid(ctx, &CreateBidRequest{BuyerID: "b", VendorID: "v", ProductID: testProduct, Amount: 0, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, h.catalog.PutProduct(ctx, "inactive", 10, false))
	_, err = h.svc.CreateBid(ctx, &CreateBidRequest{BuyerID: "b", VendorID: "v", ProductID: "inactive", Amount: 10, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	// 创建时的检查只是软校验，不会占用库存
	h.createBid(t, "b", 10, 3)
	h.createBid(t, "b", 10, 3)
	assert.Equal(t, 3, h.available(t))
}

func TestCreateBidPolicy(t *testing.T) {
	h := newHarness(t, 10, 0)
	h.svc.policy = stubPolicy{allow: false}

	_, err := h.svc.CreateBid(context.Background(), &CreateBidRequest{BuyerID: "b", VendorID: "v", ProductID: testProduct, Amount: 10, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrPolicyViolation)
	bids, err := h.svc.ListMyBids(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestTurnEnforcement(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 1)

	_, err := h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "buyer-1", Amount: 90, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotYourTurn)

	_, err = h.svc.AcceptBid(ctx, bid.ID, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrNotYourTurn)

	_, err = h.svc.RejectBid(ctx, bid.ID, "buyer-1", "")
	assert.ErrorIs(t, err, domain.ErrNotYourTurn)

	_, err = h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "stranger", Amount: 90, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.AcceptBid(ctx, "no-such-bid", "buyer-1")
	assert.ErrorIs(t, err, domain.ErrBidNotFound)

	rejected, err := h.svc.RejectBid(ctx, bid.ID, "vendor-1", "not today")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status())

	_, err = h.svc.AcceptBid(ctx, bid.ID, "vendor-1")
	assert.ErrorIs(t, err, domain.ErrBidNotPending)
	assert.Empty(t, h.orders.Created())
	assert.Equal(t, 10, h.available(t))
}

func TestCounterBidChecksAvailability(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 1)
	before, err := h.repo.FindByID(ctx, bid.ID)
	require.NoError(t, err)

	_, err = h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "vendor-1", Amount: 90, Quantity: 500})
	require.ErrorIs(t, err, domain.ErrProductUnavailable)

	stored, err := h.repo.FindByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CounterHistory)
	assert.Equal(t, domain.PartyVendor, stored.AwaitingAction)
	assert.Equal(t, before.Version, stored.Version)

	countered, err := h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "vendor-1", Amount: 90, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, countered.LiveTerms().Quantity)
	assert.Equal(t, 10, h.available(t))
}

func TestWithdrawBid(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 1)

	_, err := h.svc.WithdrawBid(ctx, bid.ID, "vendor-1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.svc.WithdrawBid(ctx, bid.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	withdrawn, err := h.svc.WithdrawBid(ctx, bid.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, withdrawn.Status())

	_, err = h.svc.WithdrawBid(ctx, bid.ID, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrBidNotPending)
}

func TestLazyExpiryOnNextMutation(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 1)
	other := h.createBid(t, "buyer-2", 100, 1)

	h.clock.Advance(domain.DefaultValidity + time.Second)

	_, err := h.svc.CounterBid(ctx, &CounterBidRequest{BidID: bid.ID, ActorID: "vendor-1", Amount: 120, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrBidExpired)
	stored, err := h.repo.FindByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status())
	assert.Empty(t, stored.CounterHistory)

	_, err = h.svc.AcceptBid(ctx, other.ID, "vendor-1")
	require.ErrorIs(t, err, domain.ErrBidExpired)
	stored, err = h.repo.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status())
	assert.Empty(t, h.orders.Created())
	assert.Equal(t, 10, h.available(t))

	h.events.Wait()
	assert.Equal(t, 4, h.notifier.Count(domain.EventBidExpired))
}

func TestAcceptOutOfStockLeavesBidPending(t *testing.T) {
	h := newHarness(t, 3, 0)
	ctx := context.Background()
	first := h.createBid(t, "buyer-1", 100, 2)
	second := h.createBid(t, "buyer-2", 100, 2)

	_, err := h.svc.AcceptBid(ctx, first.ID, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.available(t))

	_, err = h.svc.AcceptBid(ctx, second.ID, "vendor-1")
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.True(t, IsRetryable(err))

	stored, err := h.repo.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status())
	assert.Equal(t, second.Version, stored.Version)
	assert.Len(t, h.orders.Created(), 1)
	assert.Equal(t, 1, h.available(t))
}

func TestAcceptDownstreamFailureCompensates(t *testing.T) {
	h := newHarness(t, 5, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 2)
	h.invoices.hook = func(context.Context) error { return errors.New("invoice service down") }

	_, err := h.svc.AcceptBid(ctx, bid.ID, "vendor-1")
	require.ErrorIs(t, err, domain.ErrDownstreamFailure)
	assert.False(t, IsRetryable(err))

	assert.Equal(t, 5, h.available(t))
	assert.Equal(t, []string{"order-1"}, h.orders.Cancelled())

	stored, err := h.repo.FindByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status())
	assert.Equal(t, bid.Version, stored.Version)

	committed, err := h.ledger.Committed(ctx, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, committed)
}

func TestAcceptCompensatesAfterCallerCancels(t *testing.T) {
	h := newHarness(t, 5, 0)
	bid := h.createBid(t, "buyer-1", 100, 1)

	ctx, cancel := context.WithCancel(context.Background())
	h.invoices.hook = func(c context.Context) error {
		cancel()
		return c.Err()
	}

	_, err := h.svc.AcceptBid(ctx, bid.ID, "vendor-1")
	require.Error(t, err)
	assert.Equal(t, 5, h.available(t))
	assert.Len(t, h.orders.Cancelled(), 1)
}

func TestConcurrentAcceptsNeverOversell(t *testing.T) {
	const (
		stock  = 10
		bidder = 1000
	)
	h := newHarness(t, stock, 64)
	ctx := context.Background()

	ids := make([]string, bidder)
	for i := range ids {
		ids[i] = h.createBid(t, fmt.Sprintf("buyer-%d", i), 50, 1).ID
	}

	var accepted, outOfStock, other atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := h.svc.AcceptBid(ctx, id, "vendor-1")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStock.Add(1)
			default:
				other.Add(1)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, stock, accepted.Load())
	assert.EqualValues(t, bidder-stock, outOfStock.Load())
	assert.Zero(t, other.Load())
	assert.Equal(t, 0, h.available(t))
	assert.Len(t, h.orders.Created(), stock)

	acceptedBids, err := h.svc.ListVendorProposals(ctx, "vendor-1", domain.StatusAccepted)
	require.NoError(t, err)
	assert.Len(t, acceptedBids, stock)
}

func TestConcurrentAcceptOfSameBid(t *testing.T) {
	cases := map[string]bool{
		"downstream keyed per attempt": false,
		"downstream keyed per bid":     true,
	}
	for name, sharedPerBid := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 100, 0)
			h.orders.byBid = sharedPerBid
			h.invoices.byBid = sharedPerBid
			ctx := context.Background()
			bid := h.createBid(t, "buyer-1", 100, 3)

			const racers = 8
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.svc.AcceptBid(ctx, bid.ID, "vendor-1")
					if err == nil {
						wins.Add(1)
						return
					}
					assert.True(t, errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrBidNotPending), "unexpected error %v", err)
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 1, wins.Load())
			assert.Equal(t, 97, h.available(t))

			stored, err := h.repo.FindByID(ctx, bid.ID)
			require.NoError(t, err)
			require.Equal(t, domain.StatusAccepted, stored.Status())
			agreement := stored.Agreement()
			assert.NotContains(t, h.orders.Cancelled(), agreement.OrderID)
			assert.NotContains(t, h.invoices.Voided(), agreement.InvoiceID)

			keys := make(map[string]bool)
			for _, req := range h.orders.Created() {
				assert.False(t, keys[req.IdempotencyKey], "idempotency key reused across attempts")
				keys[req.IdempotencyKey] = true
			}
			if sharedPerBid {
				assert.Empty(t, h.orders.Cancelled())
				assert.Empty(t, h.invoices.Voided())
			} else {
				assert.Equal(t, len(h.orders.Created())-1, len(h.orders.Cancelled()))
			}
		})
	}
}

func TestGetBidRestrictedToParties(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	bid := h.createBid(t, "buyer-1", 100, 1)

	got, err := h.svc.GetBid(ctx, bid.ID, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, bid.ID, got.ID)

	_, err = h.svc.GetBid(ctx, bid.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.svc.GetBid(ctx, "missing", "vendor-1")
	assert.ErrorIs(t, err, domain.ErrBidNotFound)
}

func TestListings(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	a := h.createBid(t, "buyer-1", 100, 1)
	h.clock.Advance(time.Minute)
	b := h.createBid(t, "buyer-1", 120, 1)
	h.createBid(t, "buyer-2", 130, 1)
	_, err := h.svc.WithdrawBid(ctx, a.ID, "buyer-1")
	require.NoError(t, err)

	mine, err := h.svc.ListMyBids(ctx, "buyer-1", "")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b.ID, mine[0].ID, "newest first")

	pending, err := h.svc.ListMyBids(ctx, "buyer-1", domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	proposals, err := h.svc.ListVendorProposals(ctx, "vendor-1", domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, proposals, 2)
}

func TestHighestPending(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()

	_, err := h.svc.HighestPending(ctx, testProduct)
	require.ErrorIs(t, err, domain.ErrBidNotFound)

	h.createBid(t, "buyer-1", 100, 1)
	h.clock.Advance(time.Minute)
	early := h.createBid(t, "buyer-2", 150, 1)
	h.clock.Advance(time.Minute)
	h.createBid(t, "buyer-3", 150, 1)
	h.clock.Advance(time.Minute)
	top := h.createBid(t, "buyer-4", 200, 1)

	got, err := h.svc.HighestPending(ctx, testProduct)
	require.NoError(t, err)
	assert.Equal(t, top.ID, got.ID)

	_, err = h.svc.WithdrawBid(ctx, top.ID, "buyer-4")
	require.NoError(t, err)
	got, err = h.svc.HighestPending(ctx, testProduct)
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID, "ties go to the earliest bid")

	h.clock.Advance(domain.DefaultValidity)
	_, err = h.svc.HighestPending(ctx, testProduct)
	assert.ErrorIs(t, err, domain.ErrBidNotFound)
}
