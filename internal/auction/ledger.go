package auction

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/database"
	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Ledger accepts bids against live auctions. Acceptance is atomic with the
// auction's current-high update: the store commits both under a version
// check, and the ledger retries a bounded number of times when it loses the
// race to a concurrent writer.
type Ledger struct {
	db  database.Service
	cfg *configs.Config
	now func() time.Time
}

func NewLedger(db database.Service, cfg *configs.Config) *Ledger {
	return &Ledger{db: db, cfg: cfg, now: time.Now}
}

// PlaceBid validates and appends a bid. The returned error carries one of
// the errors package codes: ErrAuctionNotFound, ErrAuctionNotBiddable,
// ErrBidTooLow or ErrConflict.
func (l *Ledger) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int) (types.Bid, error) {
	retries := l.cfg.Auction.MaxBidRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		now := l.now()

		a, err := l.db.GetAuctionByID(ctx, auctionID)
		if stderrors.Is(err, database.ErrNotFound) {
			return types.Bid{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
		}
		if err != nil {
			return types.Bid{}, errors.Wrap(err, "error loading auction")
		}

		if !Biddable(a.Status) || !now.Before(a.EndTime) {
			return types.Bid{}, errors.New(errors.ErrAuctionNotBiddable, "auction is not open for bidding")
		}

		increment := a.BidIncrement
		if increment <= 0 {
			increment = l.cfg.Auction.MinBidIncrement
		}
		floor := a.ReservePrice
		if a.CurrentBid != nil {
			floor = *a.CurrentBid
		}
		minAcceptable := floor + increment
		if amount < minAcceptable {
			return types.Bid{}, errors.New(errors.ErrBidTooLow,
				fmt.Sprintf("bid must be at least %d", minAcceptable))
		}

		bid := types.Bid{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now,
		}
		accepted, err := l.db.ApplyBid(ctx, a, bid)
		if stderrors.Is(err, database.ErrVersionConflict) {
			// Another bid (or a status flip) committed first. Re-read and
			// re-validate against the new state.
			log.Debugf("Bid on auction %s lost version race, retrying (%d)", a.ID, attempt+1)
			continue
		}
		if err != nil {
			return types.Bid{}, errors.Wrap(err, "error persisting bid")
		}

		log.Debugf("Auction %s accepted bid of %d from %s", a.ID, amount, bidderID)
		return accepted, nil
	}

	return types.Bid{}, errors.New(errors.ErrConflict, "bid rejected after concurrent update retries")
}
