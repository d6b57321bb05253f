package types

import (
	"time"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AuctionStatus values follow the lifecycle ordering
// scheduled -> active -> ending_soon -> closed -> settled.
// cancelled is reachable from the first three states only.
type AuctionStatus string

const (
	AuctionScheduled  AuctionStatus = "scheduled"
	AuctionActive     AuctionStatus = "active"
	AuctionEndingSoon AuctionStatus = "ending_soon"
	AuctionClosed     AuctionStatus = "closed"
	AuctionSettled    AuctionStatus = "settled"
	AuctionCancelled  AuctionStatus = "cancelled"
)

type Auction struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	ProductRef      string        `json:"productRef"`
	SellerID        string        `json:"sellerId"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	ReservePrice    int           `json:"reservePrice"`
	BidIncrement    int           `json:"bidIncrement"`
	CurrentBid      *int          `json:"currentBid,omitempty"`
	CurrentBidderID *string       `json:"currentBidderId,omitempty"`
	BiddersCount    int           `json:"biddersCount"`
	WinnerID        *string       `json:"winnerId,omitempty"`
	Status          AuctionStatus `json:"status"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Bid is immutable once persisted.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Amount    int       `json:"amount"`
	PlacedAt  time.Time `json:"placedAt"`
}

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderVerified       OrderStatus = "verified"
	OrderFailed         OrderStatus = "failed"
)

type Order struct {
	ID             string      `json:"id"`
	AuctionID      string      `json:"auctionId"`
	BuyerID        string      `json:"buyerId"`
	Amount         int         `json:"amount"`
	TransactionRef string      `json:"transactionRef"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
