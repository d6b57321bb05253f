package auction

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/database"
	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Market exposes the seller/buyer facing auction operations: scheduling,
// projections and cancellation. Status advances past scheduling are the
// scheduler's job, never the client's.
type Market struct {
	db  database.Service
	cfg *configs.Config
	now func() time.Time
}

func NewMarket(db database.Service, cfg *configs.Config) *Market {
	return &Market{db: db, cfg: cfg, now: time.Now}
}

type CreateAuctionParams struct {
	Title        string
	ProductRef   string
	SellerID     string
	StartTime    time.Time
	EndTime      time.Time
	ReservePrice int
	BidIncrement int // 0 means use the configured default
}

func (m *Market) CreateAuction(ctx context.Context, p CreateAuctionParams) (types.Auction, error) {
	if p.ProductRef == "" || p.SellerID == "" {
		return types.Auction{}, errors.New(errors.ErrBadMessageFormat, "product and seller are required")
	}
	if p.ReservePrice < 0 {
		return types.Auction{}, errors.New(errors.ErrBadMessageFormat, "reserve price must not be negative")
	}
	now := m.now()
	if !p.EndTime.After(p.StartTime) || !p.EndTime.After(now) {
		return types.Auction{}, errors.New(errors.ErrBadMessageFormat, "auction end time must be in the future and after start time")
	}

	auction := types.Auction{
		ID:           uuid.NewString(),
		Title:        p.Title,
		ProductRef:   p.ProductRef,
		SellerID:     p.SellerID,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		ReservePrice: p.ReservePrice,
		BidIncrement: p.BidIncrement,
		Status:       InitialStatus(p.StartTime, now),
	}
	created, err := m.db.CreateAuction(ctx, auction)
	if err != nil {
		return types.Auction{}, errors.Wrap(err, "error creating auction")
	}

	log.Infof("Auction %s scheduled by %s, ends at %s", created.ID, created.SellerID, created.EndTime)
	return created, nil
}

func (m *Market) GetAuction(ctx context.Context, auctionID string) (types.Auction, error) {
	a, err := m.db.GetAuctionByID(ctx, auctionID)
	if stderrors.Is(err, database.ErrNotFound) {
		return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
	}
	if err != nil {
		return types.Auction{}, errors.Wrap(err, "error loading auction")
	}
	return a, nil
}

// ListFilter is the projection filter offered to listing collaborators.
type ListFilter struct {
	SellerID   string
	Statuses   []types.AuctionStatus
	EndingSoon bool
}

func (m *Market) ListAuctions(ctx context.Context, filter ListFilter) ([]types.Auction, error) {
	dbFilter := database.AuctionFilter{
		SellerID: filter.SellerID,
		Statuses: filter.Statuses,
	}
	if filter.EndingSoon {
		// Only live auctions count as ending soon.
		if len(dbFilter.Statuses) == 0 {
			dbFilter.Statuses = []types.AuctionStatus{types.AuctionActive, types.AuctionEndingSoon}
		}
		dbFilter.EndingWithin = m.cfg.Auction.EndingSoonWindow
		dbFilter.Now = m.now()
	}
	auctions, err := m.db.ListAuctions(ctx, dbFilter)
	if err != nil {
		return nil, errors.Wrap(err, "error listing auctions")
	}
	return auctions, nil
}

// BidHistory returns the auction's bids in placement order.
func (m *Market) BidHistory(ctx context.Context, auctionID string) ([]types.Bid, error) {
	if _, err := m.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := m.db.ListBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, errors.Wrap(err, "error listing bids")
	}
	return bids, nil
}

// CancelAuction withdraws an auction before closure. Only the seller may
// cancel, and only while no bid exists.
func (m *Market) CancelAuction(ctx context.Context, auctionID, requesterID string) (types.Auction, error) {
	retries := m.cfg.Auction.MaxBidRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		a, err := m.GetAuction(ctx, auctionID)
		if err != nil {
			return types.Auction{}, err
		}
		if a.SellerID != requesterID {
			return types.Auction{}, errors.New(errors.ErrNotSeller, "only the seller may cancel an auction")
		}
		if !Cancellable(a.Status) {
			return types.Auction{}, errors.New(errors.ErrInvalidTransition, "auction can no longer be cancelled")
		}
		count, err := m.db.CountBidsByAuction(ctx, auctionID)
		if err != nil {
			return types.Auction{}, errors.Wrap(err, "error counting bids")
		}
		if count > 0 {
			return types.Auction{}, errors.New(errors.ErrCancelRefused, "auction with bids cannot be cancelled")
		}

		cancelled, err := m.db.UpdateAuctionStatus(ctx, a.ID, a.Version, a.Status, types.AuctionCancelled, nil)
		if stderrors.Is(err, database.ErrVersionConflict) {
			// A bid or a timed transition landed in between; re-evaluate.
			continue
		}
		if err != nil {
			return types.Auction{}, errors.Wrap(err, "error cancelling auction")
		}

		log.Infof("Auction %s cancelled by seller %s", cancelled.ID, requesterID)
		return cancelled, nil
	}

	return types.Auction{}, errors.New(errors.ErrConflict, "cancel rejected after concurrent update retries")
}
