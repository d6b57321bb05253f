package auction

import (
	"time"

	"github.com/addisbid/auction-server/pkg/types"
)

// Legal transitions. Everything except cancellation is adjacent along the
// lifecycle ordering; cancellation is only reachable before closure.
var transitions = map[types.AuctionStatus][]types.AuctionStatus{
	types.AuctionScheduled:  {types.AuctionActive, types.AuctionCancelled},
	types.AuctionActive:     {types.AuctionEndingSoon, types.AuctionCancelled},
	types.AuctionEndingSoon: {types.AuctionClosed, types.AuctionCancelled},
	types.AuctionClosed:     {types.AuctionSettled},
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to types.AuctionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Biddable reports whether bids may be placed in the given status.
func Biddable(status types.AuctionStatus) bool {
	return status == types.AuctionActive || status == types.AuctionEndingSoon
}

// Cancellable reports whether the seller may still cancel in the given status.
func Cancellable(status types.AuctionStatus) bool {
	return status == types.AuctionScheduled ||
		status == types.AuctionActive ||
		status == types.AuctionEndingSoon
}

// NextTimedTransition returns the deadline-driven status the auction should
// move to next, and whether its deadline has passed at now. A transition is
// never due before its stored timestamp: running the scheduler early yields
// (target, false).
func NextTimedTransition(a types.Auction, now time.Time, endingSoonWindow time.Duration) (types.AuctionStatus, bool) {
	switch a.Status {
	case types.AuctionScheduled:
		return types.AuctionActive, !now.Before(a.StartTime)
	case types.AuctionActive:
		return types.AuctionEndingSoon, !now.Before(a.EndTime.Add(-endingSoonWindow))
	case types.AuctionEndingSoon:
		return types.AuctionClosed, !now.Before(a.EndTime)
	default:
		return "", false
	}
}

// InitialStatus resolves the status of a freshly scheduled auction. An
// auction whose start time already passed begins active.
func InitialStatus(startTime, now time.Time) types.AuctionStatus {
	if !now.Before(startTime) {
		return types.AuctionActive
	}
	return types.AuctionScheduled
}
