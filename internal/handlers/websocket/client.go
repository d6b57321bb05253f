package websocket

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Client struct {
	ID           string
	Email        string
	Conn         *websocket.Conn
	Send         chan []byte   // Channel for outgoing messages
	PingInterval time.Duration // Keepalive ping period, 0 means the default
	RateLimiter  *rate.Limiter // Rate limiter to prevent spamming
	closed       bool          // Flag to check if the connection is closed
	mu           sync.Mutex    // Mutex to protect the closed flag
}

// ReadMessages listens for incoming messages from the client.
func (c *Client) ReadMessages(handler *AuctionHandler) {
	defer func() {
		c.Disconnect(handler) // Ensure cleanup
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handler.HandleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages to the client and keeps the
// connection alive with periodic pings.
func (c *Client) WriteMessages() {
	interval := c.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				log.Debugf("Error sending message to client %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Debugf("Error pinging client %s: %v", c.ID, err)
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.Conn.WriteMessage(messageType, payload)
}

// Disconnect cleans up client resources.
func (c *Client) Disconnect(handler *AuctionHandler) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	if handler != nil {
		handler.connectedClients.Delete(c)
	}

	if c.Conn != nil {
		c.Conn.Close()
	}
	log.Debugf("Client %s cleanup completed", c.ID)
}
