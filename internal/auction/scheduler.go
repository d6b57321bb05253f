package auction

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/database"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
)

// Broadcaster pushes lifecycle events to connected clients. Nil disables
// notifications.
type Broadcaster interface {
	Broadcast(message []byte)
}

// Scheduler drives all deadline-based status transitions. It polls on a
// fixed interval, applies at most one transition per due auction per pass,
// and relies on the version check to stay exactly-once when several
// scheduler instances scan concurrently.
type Scheduler struct {
	db         database.Service
	cfg        *configs.Config
	reconciler *Reconciler
	notify     Broadcaster
	now        func() time.Time
}

func NewScheduler(db database.Service, cfg *configs.Config, reconciler *Reconciler, notify Broadcaster) *Scheduler {
	return &Scheduler{
		db:         db,
		cfg:        cfg,
		reconciler: reconciler,
		notify:     notify,
		now:        time.Now,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.cfg.Auction.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Infof("Expiry scheduler started, scanning every %s", interval)
		for {
			select {
			case <-ctx.Done():
				log.Info("Expiry scheduler stopped")
				return
			case <-ticker.C:
				s.Scan(ctx)
			}
		}
	}()
}

// Scan performs one pass: advance every due auction by one step, then repair
// closed auctions whose order creation or settlement was interrupted. One
// auction failing never blocks the rest.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.now()

	due, err := s.db.DueAuctions(ctx, now, s.cfg.Auction.EndingSoonWindow)
	if err != nil {
		log.Error("Error scanning for due auctions: ", err)
		return
	}

	for _, a := range due {
		if err := s.advance(ctx, a, now); err != nil {
			log.Errorf("Error advancing auction %s: %v", a.ID, err)
		}
	}

	s.repairClosed(ctx)
}

func (s *Scheduler) advance(ctx context.Context, a types.Auction, now time.Time) error {
	target, due := NextTimedTransition(a, now, s.cfg.Auction.EndingSoonWindow)
	if !due {
		return nil
	}

	var winner *string
	if target == types.AuctionClosed {
		winner = a.CurrentBidderID
	}

	updated, err := s.db.UpdateAuctionStatus(ctx, a.ID, a.Version, a.Status, target, winner)
	if stderrors.Is(err, database.ErrVersionConflict) {
		// Expected noise: a concurrent scan or a late bid advanced the row
		// first. The next pass sees the fresh state.
		log.Debugf("Auction %s already advanced past %s, skipping", a.ID, a.Status)
		return nil
	}
	if err != nil {
		return err
	}

	if target != types.AuctionClosed {
		return nil
	}

	if updated.WinnerID == nil {
		log.Infof("Auction %s closed with no bids", updated.ID)
		s.broadcastEnd(updated)
		return nil
	}

	// Order creation happens in the same logical operation as the closure;
	// the unique index keeps retries idempotent.
	order, err := s.reconciler.CreateOrder(ctx, updated)
	if err != nil {
		return fmt.Errorf("auction %s closed but order creation failed: %w", updated.ID, err)
	}
	log.Infof("Auction %s closed, winner %s, order %s pending payment",
		updated.ID, *updated.WinnerID, order.ID)
	s.broadcastEnd(updated)
	return nil
}

func (s *Scheduler) repairClosed(ctx context.Context) {
	closed, err := s.db.ListAuctions(ctx, database.AuctionFilter{
		Statuses: []types.AuctionStatus{types.AuctionClosed},
	})
	if err != nil {
		log.Error("Error listing closed auctions: ", err)
		return
	}
	for _, a := range closed {
		if err := s.reconciler.EnsureSettlement(ctx, a); err != nil {
			log.Errorf("Error reconciling closed auction %s: %v", a.ID, err)
		}
	}
}

func (s *Scheduler) broadcastEnd(a types.Auction) {
	if s.notify == nil {
		return
	}
	s.notify.Broadcast([]byte(`{"type": "auction_end", "data": "` + a.ID + `"}`))
}
