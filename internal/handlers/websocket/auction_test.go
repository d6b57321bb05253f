package websocket

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/addisbid/auction-server/internal/database/databasetest"
	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

const testAuthSecret = "test-secret"

// sessionCookie mirrors the cookie name used by internal/auth.
const sessionCookie = "authjs.session-token"

// sessionToken builds the encrypted session cookie the auth layer expects:
// HKDF-derived key, direct key encryption, A256CBC-HS512 content encryption.
func sessionToken(t *testing.T, userID string) string {
	t.Helper()

	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", sessionCookie)
	kdf := hkdf.New(sha256.New, []byte(testAuthSecret), []byte(sessionCookie), []byte(info))
	key := make([]byte, 64)
	_, err := io.ReadFull(kdf, key)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"sub":   userID,
		"email": userID + "@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	encrypted, err := jwe.Encrypt(payload,
		jwe.WithKey(jwa.DIRECT(), key),
		jwe.WithContentEncryption(jwa.A256CBC_HS512()))
	require.NoError(t, err)
	return string(encrypted)
}

func dialAuction(t *testing.T, h *AuctionHandler, token string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.HandleAuctions))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Cookie", sessionCookie+"="+token)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleAuctionsRejectsMissingSession(t *testing.T) {
	t.Setenv("AUTH_SECRET", testAuthSecret)
	h := newTestHandler(databasetest.New())
	server := httptest.NewServer(http.HandlerFunc(h.HandleAuctions))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleAuctionsBidOverWire(t *testing.T) {
	t.Setenv("AUTH_SECRET", testAuthSecret)
	store := databasetest.New()
	h := newTestHandler(store)
	seedActive(store, "a1", 100)

	conn := dialAuction(t, h, sessionToken(t, "bidder-1"))

	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type": "bid", "data": "{\"auction_id\": \"a1\", \"amount\": 110}"}`))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"bid"`)
	assert.Contains(t, string(msg), `"bidderId":"bidder-1"`)
}

// Messages beyond the configured size make the server drop the connection.
func TestHandleAuctionsEnforcesReadLimit(t *testing.T) {
	t.Setenv("AUTH_SECRET", testAuthSecret)
	store := databasetest.New()
	cfg := testConfig()
	cfg.WebSocket.MaxMessageSize = 128
	h := newTestHandlerWithConfig(store, cfg)
	seedActive(store, "a1", 100)

	conn := dialAuction(t, h, sessionToken(t, "bidder-1"))

	oversized := `{"type": "join", "data": "` + strings.Repeat("x", 512) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oversized)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server should close the connection on oversized messages")
}
