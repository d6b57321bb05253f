package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// Storage-level sentinels. The domain layer translates these into the
// client-facing error taxonomy.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict means a version-conditioned update matched zero
	// rows: another writer committed first.
	ErrVersionConflict = errors.New("optimistic lock conflict")
	// ErrDuplicateOrder means an order already exists for the auction or
	// transaction reference (unique index violation).
	ErrDuplicateOrder = errors.New("duplicate order")
)

// AuctionFilter narrows ListAuctions. Zero values are ignored.
type AuctionFilter struct {
	SellerID string
	Statuses []types.AuctionStatus
	// EndingWithin keeps only auctions whose end time falls inside the
	// window starting at Now. Requires Now to be set.
	EndingWithin time.Duration
	Now          time.Time
}

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// Migrate creates the schema if it does not exist yet.
	Migrate(ctx context.Context) error

	// AUCTION METHODS
	CreateAuction(ctx context.Context, auction types.Auction) (types.Auction, error)
	GetAuctionByID(ctx context.Context, auctionID string) (types.Auction, error)
	ListAuctions(ctx context.Context, filter AuctionFilter) ([]types.Auction, error)
	// DueAuctions returns auctions in a timed state whose next deadline has
	// passed: scheduled past startTime, active past endTime minus the
	// ending-soon window, ending_soon past endTime.
	DueAuctions(ctx context.Context, now time.Time, endingSoonWindow time.Duration) ([]types.Auction, error)
	// UpdateAuctionStatus flips status from->to conditioned on the stored
	// version. Returns ErrVersionConflict when another writer advanced the
	// row first. winnerID is only written on the transition to closed.
	UpdateAuctionStatus(ctx context.Context, auctionID string, version int, from, to types.AuctionStatus, winnerID *string) (types.Auction, error)

	// BID METHODS
	// ApplyBid appends the bid and updates the auction's current-high
	// fields in one transaction, conditioned on auction.Version.
	ApplyBid(ctx context.Context, auction types.Auction, bid types.Bid) (types.Bid, error)
	ListBidsByAuction(ctx context.Context, auctionID string) ([]types.Bid, error)
	CountBidsByAuction(ctx context.Context, auctionID string) (int, error)

	// ORDER METHODS
	CreateOrder(ctx context.Context, order types.Order) (types.Order, error)
	GetOrderByTransactionRef(ctx context.Context, transactionRef string) (types.Order, error)
	GetOrderByAuctionID(ctx context.Context, auctionID string) (types.Order, error)
	// SetOrderStatus flips the order status. Verified is terminal at the
	// storage level: writing over a verified order returns
	// ErrVersionConflict.
	SetOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) (types.Order, error)
}

type service struct {
	db *sql.DB
}

var dbInstance *service

func New(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	dbInstance = &service{
		db: db,
	}
	return dbInstance
}

// NewWithDB wraps an existing connection. Used by integration tests that
// provision their own database.
func NewWithDB(db *sql.DB) Service {
	return &service{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS public."Auctions" (
    "id"              TEXT PRIMARY KEY,
    "title"           TEXT NOT NULL,
    "productId"       TEXT NOT NULL,
    "merchantId"      TEXT NOT NULL,
    "startTime"       TIMESTAMPTZ NOT NULL,
    "endTime"         TIMESTAMPTZ NOT NULL,
    "reservePrice"    INTEGER NOT NULL DEFAULT 0,
    "bidIncrement"    INTEGER NOT NULL DEFAULT 0,
    "currentBid"      INTEGER,
    "currentBidderId" TEXT,
    "biddersCount"    INTEGER NOT NULL DEFAULT 0,
    "winnerId"        TEXT,
    "status"          TEXT NOT NULL,
    "version"         INTEGER NOT NULL DEFAULT 0,
    "createdAt"       TIMESTAMPTZ NOT NULL DEFAULT now(),
    "updatedAt"       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS "Auctions_status_endTime_idx" ON public."Auctions" ("status", "endTime");
CREATE INDEX IF NOT EXISTS "Auctions_merchantId_status_idx" ON public."Auctions" ("merchantId", "status");

CREATE TABLE IF NOT EXISTS public."Bid" (
    "id"        TEXT PRIMARY KEY,
    "auctionId" TEXT NOT NULL REFERENCES public."Auctions" ("id"),
    "bidderId"  TEXT NOT NULL,
    "amount"    INTEGER NOT NULL,
    "placedAt"  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS "Bid_auctionId_placedAt_idx" ON public."Bid" ("auctionId", "placedAt");

CREATE TABLE IF NOT EXISTS public."Order" (
    "id"             TEXT PRIMARY KEY,
    "auctionId"      TEXT NOT NULL REFERENCES public."Auctions" ("id"),
    "buyerId"        TEXT NOT NULL,
    "amount"         INTEGER NOT NULL,
    "transactionRef" TEXT NOT NULL,
    "status"         TEXT NOT NULL,
    "createdAt"      TIMESTAMPTZ NOT NULL DEFAULT now(),
    "updatedAt"      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS "Order_auctionId_key" ON public."Order" ("auctionId");
CREATE UNIQUE INDEX IF NOT EXISTS "Order_transactionRef_key" ON public."Order" ("transactionRef");
`

func (s *service) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Errorf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
// It logs a message indicating the disconnection from the specific database.
// If the connection is successfully closed, it returns nil.
// If an error occurs while closing the connection, it returns the error.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}
