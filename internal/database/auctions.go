package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
)

const auctionColumns = `
    "id",
    "title",
    "productId",
    "merchantId",
    "startTime",
    "endTime",
    "reservePrice",
    "bidIncrement",
    "currentBid",
    "currentBidderId",
    "biddersCount",
    "winnerId",
    "status",
    "version",
    "createdAt",
    "updatedAt"
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var auction types.Auction
	err := row.Scan(
		&auction.ID,
		&auction.Title,
		&auction.ProductRef,
		&auction.SellerID,
		&auction.StartTime,
		&auction.EndTime,
		&auction.ReservePrice,
		&auction.BidIncrement,
		&auction.CurrentBid,
		&auction.CurrentBidderID,
		&auction.BiddersCount,
		&auction.WinnerID,
		&auction.Status,
		&auction.Version,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	return auction, err
}

func (s *service) CreateAuction(ctx context.Context, auction types.Auction) (types.Auction, error) {
	query := `
        INSERT INTO public."Auctions"
            ("id", "title", "productId", "merchantId", "startTime", "endTime",
             "reservePrice", "bidIncrement", "biddersCount", "status", "version")
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, 0)
        RETURNING ` + auctionColumns
	created, err := scanAuction(s.db.QueryRowContext(ctx, query,
		auction.ID,
		auction.Title,
		auction.ProductRef,
		auction.SellerID,
		auction.StartTime,
		auction.EndTime,
		auction.ReservePrice,
		auction.BidIncrement,
		auction.Status,
	))
	if err != nil {
		return types.Auction{}, fmt.Errorf("error creating auction: %w", err)
	}
	return created, nil
}

func (s *service) GetAuctionByID(ctx context.Context, auctionID string) (types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "id" = $1`
	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Auction{}, ErrNotFound
	}
	if err != nil {
		return types.Auction{}, fmt.Errorf("error getting auction by id: %w", err)
	}
	return auction, nil
}

func (s *service) ListAuctions(ctx context.Context, filter AuctionFilter) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions"`
	var (
		conditions []string
		args       []any
	)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conditions = append(conditions, fmt.Sprintf(`"merchantId" = $%d`, len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, status)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, `"status" IN (`+strings.Join(placeholders, ", ")+`)`)
	}
	if filter.EndingWithin > 0 {
		args = append(args, filter.Now)
		conditions = append(conditions, fmt.Sprintf(`"endTime" >= $%d`, len(args)))
		args = append(args, filter.Now.Add(filter.EndingWithin))
		conditions = append(conditions, fmt.Sprintf(`"endTime" <= $%d`, len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY "endTime" ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}
	return auctions, nil
}

func (s *service) DueAuctions(ctx context.Context, now time.Time, endingSoonWindow time.Duration) ([]types.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM public."Auctions"
        WHERE ("status" = $1 AND "startTime" <= $4)
           OR ("status" = $2 AND "endTime" - make_interval(secs => $5) <= $4)
           OR ("status" = $3 AND "endTime" <= $4)
        ORDER BY "endTime" ASC
    `
	rows, err := s.db.QueryContext(ctx, query,
		types.AuctionScheduled,
		types.AuctionActive,
		types.AuctionEndingSoon,
		now,
		endingSoonWindow.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("error querying due auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning due auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over due auctions: %w", err)
	}
	return auctions, nil
}

func (s *service) UpdateAuctionStatus(ctx context.Context, auctionID string, version int, from, to types.AuctionStatus, winnerID *string) (types.Auction, error) {
	query := `
        UPDATE public."Auctions"
        SET "status" = $1,
            "winnerId" = COALESCE($2, "winnerId"),
            "version" = "version" + 1,
            "updatedAt" = now()
        WHERE "id" = $3 AND "version" = $4 AND "status" = $5
        RETURNING ` + auctionColumns
	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, to, winnerID, auctionID, version, from))
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows matched: either the row is gone or another writer
		// advanced it first. Distinguish for the caller.
		if _, getErr := s.GetAuctionByID(ctx, auctionID); errors.Is(getErr, ErrNotFound) {
			return types.Auction{}, ErrNotFound
		}
		return types.Auction{}, ErrVersionConflict
	}
	if err != nil {
		return types.Auction{}, fmt.Errorf("error updating auction status: %w", err)
	}

	log.Debugf("Auction %s moved %s -> %s", auction.ID, from, to)
	return auction, nil
}

// ApplyBid commits the high-bid update and the bid append atomically. The
// UPDATE is conditioned on the version the ledger read, so a concurrent
// writer makes the whole transaction roll back with ErrVersionConflict.
func (s *service) ApplyBid(ctx context.Context, auction types.Auction, bid types.Bid) (types.Bid, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Bid{}, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
        UPDATE public."Auctions"
        SET "currentBid" = $1,
            "currentBidderId" = $2,
            "biddersCount" = "biddersCount" + 1,
            "version" = "version" + 1,
            "updatedAt" = now()
        WHERE "id" = $3 AND "version" = $4 AND "status" IN ($5, $6)`,
		bid.Amount, bid.BidderID, auction.ID, auction.Version,
		types.AuctionActive, types.AuctionEndingSoon,
	)
	if err != nil {
		return types.Bid{}, fmt.Errorf("error updating auction high bid: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return types.Bid{}, ErrVersionConflict
	}

	var created types.Bid
	err = tx.QueryRowContext(ctx, `
        INSERT INTO public."Bid" ("id", "auctionId", "bidderId", "amount", "placedAt")
        VALUES ($1, $2, $3, $4, $5)
        RETURNING "id", "auctionId", "bidderId", "amount", "placedAt"`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.PlacedAt,
	).Scan(&created.ID, &created.AuctionID, &created.BidderID, &created.Amount, &created.PlacedAt)
	if err != nil {
		return types.Bid{}, fmt.Errorf("error creating bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Bid{}, fmt.Errorf("error committing bid: %w", err)
	}
	return created, nil
}

func (s *service) ListBidsByAuction(ctx context.Context, auctionID string) ([]types.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT "id", "auctionId", "bidderId", "amount", "placedAt"
        FROM public."Bid"
        WHERE "auctionId" = $1
        ORDER BY "placedAt" ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("error listing bids: %w", err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		if err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.PlacedAt); err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

func (s *service) CountBidsByAuction(ctx context.Context, auctionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM public."Bid" WHERE "auctionId" = $1`, auctionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting bids: %w", err)
	}
	return count, nil
}
