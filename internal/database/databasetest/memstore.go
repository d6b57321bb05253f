// Package databasetest provides an in-memory database.Service with the same
// version and uniqueness semantics as the Postgres store, so components can
// be exercised under real contention without a database.
package databasetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/addisbid/auction-server/internal/database"
	"github.com/addisbid/auction-server/pkg/types"
)

type MemStore struct {
	mu       sync.Mutex
	auctions map[string]types.Auction
	bids     map[string][]types.Bid
	orders   map[string]types.Order

	forcedConflicts int
}

func New() *MemStore {
	return &MemStore{
		auctions: make(map[string]types.Auction),
		bids:     make(map[string][]types.Bid),
		orders:   make(map[string]types.Order),
	}
}

// Seed inserts an auction directly, bypassing any domain validation.
func (m *MemStore) Seed(a types.Auction) types.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = "auction-" + a.SellerID
	}
	m.auctions[a.ID] = a
	return a
}

// ForceConflicts makes the next n ApplyBid calls lose the version race, to
// drive retry paths deterministically.
func (m *MemStore) ForceConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedConflicts = n
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) Health() map[string]string { return map[string]string{"status": "up"} }
func (m *MemStore) Close() error              { return nil }
func (m *MemStore) Migrate(context.Context) error {
	return nil
}

func (m *MemStore) CreateAuction(_ context.Context, auction types.Auction) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	auction.Version = 0
	auction.CreatedAt = now
	auction.UpdatedAt = now
	m.auctions[auction.ID] = auction
	return auction, nil
}

func (m *MemStore) GetAuctionByID(_ context.Context, auctionID string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, database.ErrNotFound
	}
	return a, nil
}

func (m *MemStore) ListAuctions(_ context.Context, filter database.AuctionFilter) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Auction
	for _, a := range m.auctions {
		if filter.SellerID != "" && a.SellerID != filter.SellerID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if a.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if filter.EndingWithin > 0 {
			if a.EndTime.Before(filter.Now) || a.EndTime.After(filter.Now.Add(filter.EndingWithin)) {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (m *MemStore) DueAuctions(_ context.Context, now time.Time, endingSoonWindow time.Duration) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Auction
	for _, a := range m.auctions {
		switch a.Status {
		case types.AuctionScheduled:
			if !now.Before(a.StartTime) {
				out = append(out, a)
			}
		case types.AuctionActive:
			if !now.Before(a.EndTime.Add(-endingSoonWindow)) {
				out = append(out, a)
			}
		case types.AuctionEndingSoon:
			if !now.Before(a.EndTime) {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (m *MemStore) UpdateAuctionStatus(_ context.Context, auctionID string, version int, from, to types.AuctionStatus, winnerID *string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, database.ErrNotFound
	}
	if a.Version != version || a.Status != from {
		return types.Auction{}, database.ErrVersionConflict
	}
	a.Status = to
	if winnerID != nil {
		a.WinnerID = winnerID
	}
	a.Version++
	a.UpdatedAt = time.Now()
	m.auctions[auctionID] = a
	return a, nil
}

func (m *MemStore) ApplyBid(_ context.Context, auction types.Auction, bid types.Bid) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		return types.Bid{}, database.ErrVersionConflict
	}
	a, ok := m.auctions[auction.ID]
	if !ok {
		return types.Bid{}, database.ErrNotFound
	}
	biddable := a.Status == types.AuctionActive || a.Status == types.AuctionEndingSoon
	if a.Version != auction.Version || !biddable {
		return types.Bid{}, database.ErrVersionConflict
	}
	amount := bid.Amount
	bidder := bid.BidderID
	a.CurrentBid = &amount
	a.CurrentBidderID = &bidder
	a.BiddersCount++
	a.Version++
	a.UpdatedAt = time.Now()
	m.auctions[a.ID] = a
	m.bids[a.ID] = append(m.bids[a.ID], bid)
	return bid, nil
}

func (m *MemStore) ListBidsByAuction(_ context.Context, auctionID string) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := make([]types.Bid, len(m.bids[auctionID]))
	copy(bids, m.bids[auctionID])
	return bids, nil
}

func (m *MemStore) CountBidsByAuction(_ context.Context, auctionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bids[auctionID]), nil
}

func (m *MemStore) CreateOrder(_ context.Context, order types.Order) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.AuctionID == order.AuctionID || existing.TransactionRef == order.TransactionRef {
			return types.Order{}, database.ErrDuplicateOrder
		}
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[order.ID] = order
	return order, nil
}

func (m *MemStore) GetOrderByTransactionRef(_ context.Context, transactionRef string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TransactionRef == transactionRef {
			return o, nil
		}
	}
	return types.Order{}, database.ErrNotFound
}

func (m *MemStore) GetOrderByAuctionID(_ context.Context, auctionID string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.AuctionID == auctionID {
			return o, nil
		}
	}
	return types.Order{}, database.ErrNotFound
}

func (m *MemStore) SetOrderStatus(_ context.Context, orderID string, status types.OrderStatus) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, database.ErrNotFound
	}
	if o.Status == types.OrderVerified {
		return types.Order{}, database.ErrVersionConflict
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	m.orders[orderID] = o
	return o, nil
}
