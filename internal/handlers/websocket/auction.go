package websocket

import (
	"net/http"
	"sync"

	"github.com/addisbid/auction-server/configs"
	"github.com/addisbid/auction-server/internal/auction"
	"github.com/addisbid/auction-server/internal/auth"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// AuctionHandler owns the live bidding connections. Bids and cancels flow
// through the ledger and market; everything else on the auction lifecycle is
// the scheduler's business.
type AuctionHandler struct {
	ledger           *auction.Ledger
	market           *auction.Market
	cfg              *configs.Config
	connectedClients sync.Map // *Client -> struct{}
}

func NewAuctionWebSocketHandler(ledger *auction.Ledger, market *auction.Market, cfg *configs.Config) *AuctionHandler {
	return &AuctionHandler{ledger: ledger, market: market, cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleAuctions validates the session and upgrades the request to a
// WebSocket connection.
func (h *AuctionHandler) HandleAuctions(w http.ResponseWriter, r *http.Request) {
	// Validate the token from the cookie
	token, err := auth.ValidateTokenFromCookie(r)
	if err != nil || token == nil {
		log.Error("Invalid token: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// The subject claim carries the verified user id.
	id, ok := token.Subject()
	if !ok || id == "" {
		log.Error("Error retrieving subject from token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		log.Error("Error retrieving email from token claims")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	if h.cfg.WebSocket.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(h.cfg.WebSocket.MaxMessageSize))
	}

	// Initialize a new client
	client := &Client{
		ID:           id,
		Email:        email,
		Conn:         conn,
		Send:         make(chan []byte, 16),
		PingInterval: h.cfg.WebSocket.PingInterval,
		RateLimiter:  rate.NewLimiter(1, 3),
	}

	h.connectedClients.Store(client, struct{}{})

	// Start handling the client
	go client.ReadMessages(h)
	go client.WriteMessages()
}

// Broadcast sends a message to all connected clients.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.connectedClients.Range(func(key, _ any) bool {
		client := key.(*Client)
		select {
		case client.Send <- message:
		default:
			// Remove disconnected clients
			h.connectedClients.Delete(client)
			client.Disconnect(nil)
		}
		return true
	})
}
