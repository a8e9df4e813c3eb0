package stub

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PaymentHandler is a stand-in for the external payment service, used for
// local development and tests. Tokens prefixed "invalid-" are rejected as
// invalid, "fail-" as failed; everything else is charged.
type PaymentHandler struct {
	logger *slog.Logger

	mu      sync.Mutex
	charges map[string]int64
}

func NewPaymentHandler(logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		logger:  logger,
		charges: make(map[string]int64),
	}
}

type paymentTokenRequest struct {
	ShopID string `json:"shop_id"`
	Token  string `json:"token"`
	Price  int64  `json:"price"`
}

type paymentTokenResponse struct {
	Status string `json:"status"`
}

func (h *PaymentHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req paymentTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	delay := time.Duration(10+rand.Intn(41)) * time.Millisecond
	time.Sleep(delay)

	status := "ok"
	switch {
	case strings.HasPrefix(req.Token, "invalid-"):
		status = "invalid"
	case strings.HasPrefix(req.Token, "fail-"):
		status = "fail"
	default:
		h.mu.Lock()
		h.charges[req.Token] = req.Price
		h.mu.Unlock()
	}

	h.logger.Info("payment token processed", "shop_id", req.ShopID, "status", status, "price", req.Price)
	h.writeJSON(w, http.StatusOK, paymentTokenResponse{Status: status})
}

// ChargedAmount reports what was captured for a token, for test assertions.
func (h *PaymentHandler) ChargedAmount(token string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	price, ok := h.charges[token]
	return price, ok
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Mux returns the stub's routes, shared by cmd/paymentstub and tests.
func (h *PaymentHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", h.HandleToken)
	return mux
}
