package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/addisbid/auction-server/pkg/types"
	"github.com/jackc/pgx/v5/pgconn"
)

const orderColumns = `"id", "auctionId", "buyerId", "amount", "transactionRef", "status", "createdAt", "updatedAt"`

func scanOrder(row rowScanner) (types.Order, error) {
	var order types.Order
	err := row.Scan(
		&order.ID,
		&order.AuctionID,
		&order.BuyerID,
		&order.Amount,
		&order.TransactionRef,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	return order, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *service) CreateOrder(ctx context.Context, order types.Order) (types.Order, error) {
	query := `
        INSERT INTO public."Order" ("id", "auctionId", "buyerId", "amount", "transactionRef", "status")
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + orderColumns
	created, err := scanOrder(s.db.QueryRowContext(ctx, query,
		order.ID,
		order.AuctionID,
		order.BuyerID,
		order.Amount,
		order.TransactionRef,
		order.Status,
	))
	if isUniqueViolation(err) {
		return types.Order{}, ErrDuplicateOrder
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("error creating order: %w", err)
	}
	return created, nil
}

func (s *service) GetOrderByTransactionRef(ctx context.Context, transactionRef string) (types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM public."Order" WHERE "transactionRef" = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, transactionRef))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Order{}, ErrNotFound
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("error getting order by transaction ref: %w", err)
	}
	return order, nil
}

func (s *service) GetOrderByAuctionID(ctx context.Context, auctionID string) (types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM public."Order" WHERE "auctionId" = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Order{}, ErrNotFound
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("error getting order by auction id: %w", err)
	}
	return order, nil
}

// SetOrderStatus flips the order status. The update is conditioned on the
// stored status not being verified, so concurrent gateway callbacks cannot
// overwrite a verified order; losing that race returns ErrVersionConflict.
func (s *service) SetOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) (types.Order, error) {
	query := `
        UPDATE public."Order"
        SET "status" = $1, "updatedAt" = now()
        WHERE "id" = $2 AND "status" <> $3
        RETURNING ` + orderColumns
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, status, orderID, types.OrderVerified))
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows matched: either the row is gone or it is already
		// verified. Distinguish for the caller.
		var current types.OrderStatus
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT "status" FROM public."Order" WHERE "id" = $1`, orderID,
		).Scan(&current)
		if errors.Is(checkErr, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		if checkErr != nil {
			return types.Order{}, fmt.Errorf("error checking order status: %w", checkErr)
		}
		return types.Order{}, ErrVersionConflict
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("error updating order status: %w", err)
	}
	return order, nil
}
