package websocket

import (
	"context"
	"encoding/json"

	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
)

type Message struct {
	Type string `json:"type"` // Type of the message (e.g., "bid", "cancel")
	Data string `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.Send <- []byte(`{"type": "error", "message": "Rate limit exceeded"}`)
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON())
		return
	}

	switch msg.Type {
	case "join":
		log.Debugf("Client %s joined the auction feed", client.ID)
	case "bid":
		h.handleBidMessage(client, msg.Data)
	case "cancel":
		h.handleCancelMessage(client, msg.Data)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
		client.Send <- []byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON())
	}
}

type bidAccepted struct {
	Type string    `json:"type"`
	Bid  types.Bid `json:"bid"`
}

// Handlers for specific message types
func (h *AuctionHandler) handleBidMessage(client *Client, data string) {
	type BidMessage struct {
		AuctionID string `json:"auction_id"`
		Amount    int    `json:"amount"`
	}
	var bidMsg BidMessage

	err := json.Unmarshal([]byte(data), &bidMsg)
	if err != nil || bidMsg.Amount <= 0 {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON())
		return
	}

	bid, err := h.ledger.PlaceBid(context.Background(), bidMsg.AuctionID, client.ID, bidMsg.Amount)
	if err != nil {
		h.sendError(client, err)
		return
	}

	// Broadcast the accepted bid to all clients
	rawMessage, err := json.Marshal(&bidAccepted{Type: "bid", Bid: bid})
	if err != nil {
		log.Error("Error marshalling bid message: ", err)
		return
	}
	h.Broadcast(rawMessage)
}

func (h *AuctionHandler) handleCancelMessage(client *Client, data string) {
	type CancelMessage struct {
		AuctionID string `json:"auction_id"`
	}
	var cancelMsg CancelMessage

	if err := json.Unmarshal([]byte(data), &cancelMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid cancel message").ToJSON())
		return
	}

	cancelled, err := h.market.CancelAuction(context.Background(), cancelMsg.AuctionID, client.ID)
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.Broadcast([]byte(`{"type": "auction_cancelled", "data": "` + cancelled.ID + `"}`))
}

// sendError forwards domain errors to the client with their taxonomy code;
// anything unexpected is masked as an internal error.
func (h *AuctionHandler) sendError(client *Client, err error) {
	var appErr *errors.AppError
	if e, ok := err.(*errors.AppError); ok && e.Code != errors.ErrInternalServer && e.Code != 0 {
		appErr = e
	} else {
		log.Error("Internal error handling client message: ", err)
		appErr = errors.New(errors.ErrInternalServer, "Internal server error")
	}
	client.Send <- []byte(appErr.ToJSON())
}
