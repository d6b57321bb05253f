package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/addisbid/auction-server/internal/database/databasetest"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingBroadcaster) Broadcast(message []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(message))
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestScheduler(store *databasetest.MemStore, notify Broadcaster) *Scheduler {
	cfg := testConfig()
	return NewScheduler(store, cfg, NewReconciler(store, cfg), notify)
}

func TestScanActivatesScheduledAuction(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Seed(types.Auction{
		ID:        "a1",
		SellerID:  "seller-1",
		StartTime: start,
		EndTime:   start.Add(48 * time.Hour),
		Status:    types.AuctionScheduled,
	})

	// Before the start time nothing moves.
	s.now = func() time.Time { return start.Add(-time.Second) }
	s.Scan(context.Background())
	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionScheduled, a.Status)

	s.now = func() time.Time { return start }
	s.Scan(context.Background())
	a, _ = store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionActive, a.Status)
	assert.Equal(t, 1, a.Version)
}

func TestScanAdvancesOneStepPerPass(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	store.Seed(types.Auction{
		ID:        "a1",
		SellerID:  "seller-1",
		StartTime: start,
		EndTime:   end,
		Status:    types.AuctionScheduled,
	})

	// Far past every deadline, but each scan applies a single transition.
	s.now = func() time.Time { return end.Add(time.Hour) }

	s.Scan(context.Background())
	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionActive, a.Status)

	s.Scan(context.Background())
	a, _ = store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionEndingSoon, a.Status)

	s.Scan(context.Background())
	a, _ = store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionClosed, a.Status)
}

// An auction with no bids expires into closed with no winner and no order.
func TestScanClosesAuctionWithoutBids(t *testing.T) {
	store := newMemStore()
	notify := &recordingBroadcaster{}
	s := newTestScheduler(store, notify)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Seed(types.Auction{
		ID:        "a1",
		SellerID:  "seller-1",
		StartTime: now.Add(-2 * time.Hour),
		EndTime:   now.Add(-time.Minute),
		Status:    types.AuctionEndingSoon,
	})
	s.now = func() time.Time { return now }

	s.Scan(context.Background())

	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionClosed, a.Status)
	assert.Nil(t, a.WinnerID)
	assert.Equal(t, 0, store.OrderCount())
	assert.Equal(t, 1, notify.count())
}

func TestScanClosesAuctionWithWinnerAndCreatesOrder(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	amount := 150
	bidder := "bidder-1"
	store.Seed(types.Auction{
		ID:              "a1",
		SellerID:        "seller-1",
		StartTime:       now.Add(-2 * time.Hour),
		EndTime:         now.Add(-time.Minute),
		CurrentBid:      &amount,
		CurrentBidderID: &bidder,
		Status:          types.AuctionEndingSoon,
		Version:         3,
	})
	s.now = func() time.Time { return now }

	s.Scan(context.Background())

	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionClosed, a.Status)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, "bidder-1", *a.WinnerID)

	order, err := store.GetOrderByAuctionID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "bidder-1", order.BuyerID)
	assert.Equal(t, 150, order.Amount)
	assert.Equal(t, types.OrderPendingPayment, order.Status)
	assert.NotEmpty(t, order.TransactionRef)
}

func TestScanIsIdempotentAcrossRepeatedPasses(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	amount := 150
	bidder := "bidder-1"
	store.Seed(types.Auction{
		ID:              "a1",
		SellerID:        "seller-1",
		StartTime:       now.Add(-2 * time.Hour),
		EndTime:         now.Add(-time.Minute),
		CurrentBid:      &amount,
		CurrentBidderID: &bidder,
		Status:          types.AuctionEndingSoon,
	})
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		s.Scan(context.Background())
	}

	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionClosed, a.Status)
	assert.Equal(t, 1, store.OrderCount(), "repeated scans must not duplicate the order")
}

// A crash between the closed flip and order creation heals on the next scan.
func TestScanRepairsClosedAuctionMissingOrder(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	amount := 200
	winner := "bidder-9"
	store.Seed(types.Auction{
		ID:              "a1",
		SellerID:        "seller-1",
		StartTime:       now.Add(-2 * time.Hour),
		EndTime:         now.Add(-time.Hour),
		CurrentBid:      &amount,
		CurrentBidderID: &winner,
		WinnerID:        &winner,
		Status:          types.AuctionClosed,
	})
	s.now = func() time.Time { return now }

	s.Scan(context.Background())

	order, err := store.GetOrderByAuctionID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "bidder-9", order.BuyerID)
	assert.Equal(t, 200, order.Amount)
}

func TestScanSettlesClosedAuctionWithVerifiedOrder(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	amount := 200
	winner := "bidder-9"
	store.Seed(types.Auction{
		ID:              "a1",
		SellerID:        "seller-1",
		StartTime:       now.Add(-2 * time.Hour),
		EndTime:         now.Add(-time.Hour),
		CurrentBid:      &amount,
		CurrentBidderID: &winner,
		WinnerID:        &winner,
		Status:          types.AuctionClosed,
	})
	_, err := store.CreateOrder(context.Background(), types.Order{
		ID:             "o1",
		AuctionID:      "a1",
		BuyerID:        winner,
		Amount:         amount,
		TransactionRef: "TX-verified",
		Status:         types.OrderVerified,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	s.Scan(context.Background())

	a, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionSettled, a.Status)
}

func TestScanSwallowsStaleVersion(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := store.Seed(types.Auction{
		ID:        "a1",
		SellerID:  "seller-1",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		Status:    types.AuctionScheduled,
	})
	s.now = func() time.Time { return now }

	// Another instance advanced the row after our read.
	_, err := store.UpdateAuctionStatus(context.Background(), a.ID, a.Version, types.AuctionScheduled, types.AuctionActive, nil)
	require.NoError(t, err)

	// Advancing with the stale snapshot is a no-op, not an error.
	require.NoError(t, s.advance(context.Background(), a, now))

	got, _ := store.GetAuctionByID(context.Background(), "a1")
	assert.Equal(t, types.AuctionActive, got.Status)
	assert.Equal(t, 1, got.Version)
}
