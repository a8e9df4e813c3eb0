package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tradepost-io/tradepost/internal/payment"
	"github.com/tradepost-io/tradepost/internal/shipment"
)

// Handler is the thin HTTP layer over the orchestrator. Session, CSRF and
// identity resolution happen upstream; requests arrive here with caller ids
// already resolved into the body.
type Handler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewHandler(orchestrator *Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

type buyRequest struct {
	ItemID  int64  `json:"item_id"`
	BuyerID int64  `json:"buyer_id"`
	Token   string `json:"token"`
}

type buyResponse struct {
	TransactionEvidenceID int64 `json:"transaction_evidence_id"`
}

func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transactionEvidenceID, err := h.orchestrator.Buy(r.Context(), req.ItemID, req.BuyerID, req.Token)
	if err != nil {
		h.writeDomainError(w, err, "buy failed", "item_id", req.ItemID)
		return
	}

	h.writeJSON(w, http.StatusOK, buyResponse{TransactionEvidenceID: transactionEvidenceID})
}

type shipRequest struct {
	ItemID   int64 `json:"item_id"`
	SellerID int64 `json:"seller_id"`
}

type shipResponse struct {
	ReserveID string `json:"reserve_id"`
}

func (h *Handler) HandleShipNotify(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orchestrator.ShipNotify(r.Context(), req.ItemID, req.SellerID)
	if err != nil {
		h.writeDomainError(w, err, "ship notify failed", "item_id", req.ItemID)
		return
	}

	h.writeJSON(w, http.StatusOK, shipResponse{ReserveID: result.ReserveID})
}

type shipDoneRequest struct {
	ItemID int64 `json:"item_id"`
}

func (h *Handler) HandleShipDone(w http.ResponseWriter, r *http.Request) {
	var req shipDoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.orchestrator.ShipDone(r.Context(), req.ItemID)
	if err != nil {
		h.writeDomainError(w, err, "ship done failed", "item_id", req.ItemID)
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

type completeRequest struct {
	ItemID  int64 `json:"item_id"`
	BuyerID int64 `json:"buyer_id"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orchestrator.Complete(r.Context(), req.ItemID, req.BuyerID); err != nil {
		h.writeDomainError(w, err, "complete failed", "item_id", req.ItemID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"item_id": req.ItemID})
}

func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathItemID(w, r)
	if !ok {
		return
	}

	view, err := h.orchestrator.GetTransaction(r.Context(), itemID)
	if err != nil {
		h.writeDomainError(w, err, "transaction lookup failed", "item_id", itemID)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleGetLabel(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathItemID(w, r)
	if !ok {
		return
	}

	label, err := h.orchestrator.ShipmentLabel(r.Context(), itemID)
	if err != nil {
		h.writeDomainError(w, err, "label lookup failed", "item_id", itemID)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(label)
}

type editPriceRequest struct {
	SellerID int64 `json:"seller_id"`
	Price    int64 `json:"price"`
}

func (h *Handler) HandleEditPrice(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathItemID(w, r)
	if !ok {
		return
	}

	var req editPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.orchestrator.EditPrice(r.Context(), itemID, req.SellerID, req.Price)
	if err != nil {
		h.writeDomainError(w, err, "price edit failed", "item_id", itemID)
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) pathItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("itemId")
	itemID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || itemID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return itemID, true
}

// writeDomainError maps workflow errors onto HTTP statuses; anything
// unrecognized is logged and returned as a 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrTransactionNotFound), errors.Is(err, ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrItemUnavailable), errors.Is(err, ErrInvalidState), errors.Is(err, ErrShipmentNotDelivered):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSelfPurchase), errors.Is(err, ErrNotSeller), errors.Is(err, ErrNotBuyer):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidPrice):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrDeclined):
		h.writeError(w, http.StatusPaymentRequired, "payment declined")
	case errors.Is(err, payment.ErrUnavailable), errors.Is(err, shipment.ErrUnavailable):
		h.logger.Error(msg, append(args, "error", err)...)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
	default:
		h.logger.Error(msg, append(args, "error", err)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Routes registers the orchestrator's public operations on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /buy", h.HandleBuy)
	mux.HandleFunc("POST /ship", h.HandleShipNotify)
	mux.HandleFunc("POST /ship_done", h.HandleShipDone)
	mux.HandleFunc("POST /complete", h.HandleComplete)
	mux.HandleFunc("GET /transactions/{itemId}", h.HandleGetTransaction)
	mux.HandleFunc("GET /transactions/{itemId}/label", h.HandleGetLabel)
	mux.HandleFunc("POST /items/{itemId}/edit", h.HandleEditPrice)
}
