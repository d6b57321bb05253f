package payment

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/addisbid/auction-server/internal/cache"
	"github.com/addisbid/auction-server/pkg/errors"
	"github.com/addisbid/auction-server/pkg/types"
	"github.com/charmbracelet/log"
)

// Verifier is the reconciler surface the webhook drives.
type Verifier interface {
	ReportPaymentOutcome(ctx context.Context, transactionRef, outcomeStatus string) (types.Order, error)
}

// WebhookHandler receives the payment gateway's asynchronous confirmation.
// The gateway echoes back the transaction reference the order was created
// with, plus its own outcome status and reference.
type WebhookHandler struct {
	reconciler Verifier
	idem       *cache.Cache // nil disables replay deduplication
}

func NewWebhookHandler(reconciler Verifier, idem *cache.Cache) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, idem: idem}
}

type callbackPayload struct {
	TxRef     string `json:"tx_ref"`
	Status    string `json:"status"`
	Reference string `json:"reference"` // gateway-side reference, logged only
}

func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.TxRef == "" || payload.Status == "" {
		http.Error(w, "missing tx_ref or status", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Gateways redeliver callbacks; verification is idempotent anyway, but
	// dropping replays early keeps the logs readable.
	if h.idem != nil {
		fresh, err := h.idem.SetIdempotency(ctx, "callback:"+payload.TxRef+":"+payload.Status)
		if err != nil {
			log.Error("Error checking callback idempotency: ", err)
		} else if !fresh {
			log.Debugf("Duplicate gateway callback for %s dropped", payload.TxRef)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	log.Infof("Gateway callback: ref %s status %s (gateway ref %s)",
		payload.TxRef, payload.Status, payload.Reference)

	order, err := h.reconciler.ReportPaymentOutcome(ctx, payload.TxRef, payload.Status)
	if err != nil {
		if errors.Is(err, errors.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		log.Error("Error reconciling payment outcome: ", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "order reconciled",
		"order":   order,
	})
}
