package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/auction"
	"github.com/addisbid/auction-server/internal/database/databasetest"
	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testConfig() *configs.Config {
	cfg := &configs.Config{}
	cfg.Auction.MinBidIncrement = 1
	cfg.Auction.EndingSoonWindow = time.Hour
	cfg.Auction.MaxBidRetries = 3
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.MaxMessageSize = 1024
	return cfg
}

func newTestHandler(store *databasetest.MemStore) *AuctionHandler {
	return newTestHandlerWithConfig(store, testConfig())
}

func newTestHandlerWithConfig(store *databasetest.MemStore, cfg *configs.Config) *AuctionHandler {
	return NewAuctionWebSocketHandler(auction.NewLedger(store, cfg), auction.NewMarket(store, cfg), cfg)
}

// newTestClient builds a client without a network connection; messages land
// in the buffered Send channel.
func newTestClient(h *AuctionHandler, id string) *Client {
	client := &Client{
		ID:          id,
		Email:       id + "@example.com",
		Send:        make(chan []byte, 8),
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
	}
	h.connectedClients.Store(client, struct{}{})
	return client
}

func receive(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg := <-client.Send:
		return msg
	default:
		t.Fatal("expected a message on the client send channel")
		return nil
	}
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func seedActive(store *databasetest.MemStore, id string, reserve int) types.Auction {
	now := time.Now()
	return store.Seed(types.Auction{
		ID:           id,
		SellerID:     "seller-1",
		StartTime:    now.Add(-time.Hour),
		EndTime:      now.Add(time.Hour),
		ReservePrice: reserve,
		Status:       types.AuctionActive,
	})
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type": "bid", "data": "{}"}`))
	require.NoError(t, err)
	assert.Equal(t, "bid", msg.Type)
	assert.Equal(t, "{}", msg.Data)

	_, err = ParseMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandleMessageRateLimited(t *testing.T) {
	h := newTestHandler(databasetest.New())
	client := newTestClient(h, "user-1")
	client.RateLimiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	h.HandleMessage(client, []byte(`{"type": "join"}`))
	h.HandleMessage(client, []byte(`{"type": "join"}`))

	msg := receive(t, client)
	assert.Contains(t, string(msg), "Rate limit exceeded")
}

func TestHandleMessageBadFormat(t *testing.T) {
	h := newTestHandler(databasetest.New())
	client := newTestClient(h, "user-1")

	h.HandleMessage(client, []byte(`not json`))

	var frame errorFrame
	require.NoError(t, json.Unmarshal(receive(t, client), &frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, errors.ErrBadMessageFormat, frame.Code)
}

func TestHandleMessageUnknownType(t *testing.T) {
	h := newTestHandler(databasetest.New())
	client := newTestClient(h, "user-1")

	h.HandleMessage(client, []byte(`{"type": "teleport"}`))

	var frame errorFrame
	require.NoError(t, json.Unmarshal(receive(t, client), &frame))
	assert.Equal(t, errors.ErrUnknownMessageType, frame.Code)
}

func TestBidMessageBroadcastsAcceptedBid(t *testing.T) {
	store := databasetest.New()
	h := newTestHandler(store)
	seedActive(store, "a1", 100)
	bidder := newTestClient(h, "bidder-1")
	watcher := newTestClient(h, "watcher-1")

	h.HandleMessage(bidder, []byte(`{"type": "bid", "data": "{\"auction_id\": \"a1\", \"amount\": 110}"}`))

	var frame bidAccepted
	require.NoError(t, json.Unmarshal(receive(t, watcher), &frame))
	assert.Equal(t, "bid", frame.Type)
	assert.Equal(t, "a1", frame.Bid.AuctionID)
	assert.Equal(t, "bidder-1", frame.Bid.BidderID)
	assert.Equal(t, 110, frame.Bid.Amount)

	a, err := store.GetAuctionByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 110, *a.CurrentBid)
}

func TestBidMessageTooLowSendsErrorCode(t *testing.T) {
	store := databasetest.New()
	h := newTestHandler(store)
	seedActive(store, "a1", 100)
	bidder := newTestClient(h, "bidder-1")

	h.HandleMessage(bidder, []byte(`{"type": "bid", "data": "{\"auction_id\": \"a1\", \"amount\": 50}"}`))

	var frame errorFrame
	require.NoError(t, json.Unmarshal(receive(t, bidder), &frame))
	assert.Equal(t, errors.ErrBidTooLow, frame.Code)
}

func TestBidMessageMalformedData(t *testing.T) {
	h := newTestHandler(databasetest.New())
	bidder := newTestClient(h, "bidder-1")

	h.HandleMessage(bidder, []byte(`{"type": "bid", "data": "{\"auction_id\": \"a1\", \"amount\": 0}"}`))

	var frame errorFrame
	require.NoError(t, json.Unmarshal(receive(t, bidder), &frame))
	assert.Equal(t, errors.ErrBadMessageFormat, frame.Code)
}

func TestCancelMessageBroadcasts(t *testing.T) {
	store := databasetest.New()
	h := newTestHandler(store)
	seedActive(store, "a1", 100)
	seller := newTestClient(h, "seller-1")

	h.HandleMessage(seller, []byte(`{"type": "cancel", "data": "{\"auction_id\": \"a1\"}"}`))

	msg := receive(t, seller)
	assert.Contains(t, string(msg), "auction_cancelled")
	assert.Contains(t, string(msg), "a1")
}

func TestCancelMessageRejectsNonSeller(t *testing.T) {
	store := databasetest.New()
	h := newTestHandler(store)
	seedActive(store, "a1", 100)
	client := newTestClient(h, "not-the-seller")

	h.HandleMessage(client, []byte(`{"type": "cancel", "data": "{\"auction_id\": \"a1\"}"}`))

	var frame errorFrame
	require.NoError(t, json.Unmarshal(receive(t, client), &frame))
	assert.Equal(t, errors.ErrNotSeller, frame.Code)
}

func TestBroadcastEvictsSlowClients(t *testing.T) {
	h := newTestHandler(databasetest.New())
	healthy := newTestClient(h, "healthy")
	slow := &Client{
		ID:          "slow",
		Send:        make(chan []byte), // unbuffered with no reader
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
	}
	h.connectedClients.Store(slow, struct{}{})

	h.Broadcast([]byte(`{"type": "auction_end", "data": "a1"}`))

	assert.NotNil(t, receive(t, healthy))
	_, stillThere := h.connectedClients.Load(slow)
	assert.False(t, stillThere)
}
