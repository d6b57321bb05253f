package auction

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/database"
	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/addisbid/auction-server/pkg/utils"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Reconciler matches externally reported payment outcomes to orders via the
// shared transaction reference, and settles the owning auction on success.
type Reconciler struct {
	db  database.Service
	cfg *configs.Config
}

func NewReconciler(db database.Service, cfg *configs.Config) *Reconciler {
	return &Reconciler{db: db, cfg: cfg}
}

// CreateOrder produces the pending-payment order for a closed, won auction.
// The unique index on the auction id makes duplicate creation attempts
// collapse onto the existing order, so callers may safely retry.
func (r *Reconciler) CreateOrder(ctx context.Context, auction types.Auction) (types.Order, error) {
	if auction.WinnerID == nil || auction.CurrentBid == nil {
		return types.Order{}, errors.New(errors.ErrInternalServer, "auction has no winner to order for")
	}

	order := types.Order{
		ID:             uuid.NewString(),
		AuctionID:      auction.ID,
		BuyerID:        *auction.WinnerID,
		Amount:         *auction.CurrentBid,
		TransactionRef: utils.NewTransactionRef(),
		Status:         types.OrderPendingPayment,
	}
	created, err := r.db.CreateOrder(ctx, order)
	if stderrors.Is(err, database.ErrDuplicateOrder) {
		existing, getErr := r.db.GetOrderByAuctionID(ctx, auction.ID)
		if getErr != nil {
			return types.Order{}, errors.Wrap(getErr, "error loading existing order")
		}
		return existing, nil
	}
	if err != nil {
		return types.Order{}, errors.Wrap(err, "error creating order")
	}

	log.Infof("Order %s created for auction %s: buyer %s owes %d (ref %s)",
		created.ID, created.AuctionID, created.BuyerID, created.Amount, created.TransactionRef)
	return created, nil
}

// ReportPaymentOutcome is the gateway-facing entry point. Any outcome other
// than success is treated as a failure report.
func (r *Reconciler) ReportPaymentOutcome(ctx context.Context, transactionRef, outcomeStatus string) (types.Order, error) {
	return r.VerifyPayment(ctx, transactionRef, strings.EqualFold(outcomeStatus, "success"))
}

// VerifyPayment reconciles a gateway-reported outcome with the order keyed
// by transactionRef. Re-verifying a verified order is a no-op success; a
// failed order may still be verified later if the gateway re-reports
// success. An unknown transactionRef signals a gateway/store mismatch and is
// surfaced for operator attention, not retried.
func (r *Reconciler) VerifyPayment(ctx context.Context, transactionRef string, success bool) (types.Order, error) {
	order, err := r.db.GetOrderByTransactionRef(ctx, transactionRef)
	if stderrors.Is(err, database.ErrNotFound) {
		log.Warnf("Reconciliation mismatch: gateway reported outcome for unknown transaction ref %s", transactionRef)
		return types.Order{}, errors.New(errors.ErrOrderNotFound, "no order matches transaction reference")
	}
	if err != nil {
		return types.Order{}, errors.Wrap(err, "error loading order")
	}

	if order.Status == types.OrderVerified {
		if !success {
			log.Warnf("Gateway reported failure for already verified order %s, keeping verified", order.ID)
		}
		return order, nil
	}

	if !success {
		failed, err := r.db.SetOrderStatus(ctx, order.ID, types.OrderFailed)
		if stderrors.Is(err, database.ErrVersionConflict) {
			// A concurrent success callback verified the order between our
			// read and this write; the store refused the overwrite.
			current, getErr := r.db.GetOrderByTransactionRef(ctx, transactionRef)
			if getErr != nil {
				return types.Order{}, errors.Wrap(getErr, "error reloading order")
			}
			log.Warnf("Gateway reported failure for already verified order %s, keeping verified", current.ID)
			return current, nil
		}
		if err != nil {
			return types.Order{}, errors.Wrap(err, "error marking order failed")
		}
		log.Infof("Order %s marked failed, auction %s stays closed", failed.ID, failed.AuctionID)
		return failed, nil
	}

	verified, err := r.db.SetOrderStatus(ctx, order.ID, types.OrderVerified)
	if stderrors.Is(err, database.ErrVersionConflict) {
		// Another success callback won the write; adopt its result and make
		// sure settlement still happens.
		verified, err = r.db.GetOrderByTransactionRef(ctx, transactionRef)
		if err != nil {
			return types.Order{}, errors.Wrap(err, "error reloading order")
		}
	} else if err != nil {
		return types.Order{}, errors.Wrap(err, "error marking order verified")
	}
	if err := r.settleAuction(ctx, verified.AuctionID); err != nil {
		return types.Order{}, err
	}

	log.Infof("Order %s verified, auction %s settled", verified.ID, verified.AuctionID)
	return verified, nil
}

// settleAuction drives closed -> settled under the usual version discipline.
// An auction already settled by a concurrent verification is fine.
func (r *Reconciler) settleAuction(ctx context.Context, auctionID string) error {
	retries := r.cfg.Auction.MaxBidRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		a, err := r.db.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return errors.Wrap(err, "error loading auction for settlement")
		}
		if a.Status == types.AuctionSettled {
			return nil
		}
		if a.Status != types.AuctionClosed {
			return errors.New(errors.ErrInvalidTransition, "auction is not closed, cannot settle")
		}

		_, err = r.db.UpdateAuctionStatus(ctx, a.ID, a.Version, a.Status, types.AuctionSettled, nil)
		if stderrors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "error settling auction")
		}
		return nil
	}

	return errors.New(errors.ErrConflict, "settlement lost concurrent update retries")
}

// EnsureSettlement repairs partially applied closures: a closed auction with
// a winner always gets its order, and a closed auction whose order is
// already verified gets settled. Called by the scheduler so a crash between
// the status flip and the follow-up work heals on the next scan.
func (r *Reconciler) EnsureSettlement(ctx context.Context, auction types.Auction) error {
	if auction.Status != types.AuctionClosed || auction.WinnerID == nil {
		return nil
	}

	order, err := r.db.GetOrderByAuctionID(ctx, auction.ID)
	if stderrors.Is(err, database.ErrNotFound) {
		_, err = r.CreateOrder(ctx, auction)
		return err
	}
	if err != nil {
		return errors.Wrap(err, "error checking order for closed auction")
	}

	if order.Status == types.OrderVerified {
		return r.settleAuction(ctx, auction.ID)
	}
	return nil
}
