package stub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// labelPNG is a 1x1 transparent PNG, enough to stand in for a real label.
var labelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type shipmentReservation struct {
	status      string
	reserveTime int64
}

// ShipmentHandler is a stand-in for the external shipment service. Created
// reservations start at wait_pickup; the /advance endpoint moves them through
// wait_pickup -> shipping -> done so tests and local runs can drive the
// carrier side of the workflow.
type ShipmentHandler struct {
	logger *slog.Logger

	mu           sync.Mutex
	reservations map[string]*shipmentReservation
}

func NewShipmentHandler(logger *slog.Logger) *ShipmentHandler {
	return &ShipmentHandler{
		logger:       logger,
		reservations: make(map[string]*shipmentReservation),
	}
}

type shipmentCreateRequest struct {
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

type shipmentCreateResponse struct {
	ReserveID   string `json:"reserve_id"`
	ReserveTime int64  `json:"reserve_time"`
}

func (h *ShipmentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req shipmentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ToAddress == "" || req.FromAddress == "" {
		h.writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	reserveID := uuid.New().String()
	reserveTime := time.Now().Unix()

	h.mu.Lock()
	h.reservations[reserveID] = &shipmentReservation{
		status:      "wait_pickup",
		reserveTime: reserveTime,
	}
	h.mu.Unlock()

	h.logger.Info("reservation created", "reserve_id", reserveID, "to_name", req.ToName)
	h.writeJSON(w, http.StatusOK, shipmentCreateResponse{ReserveID: reserveID, ReserveTime: reserveTime})
}

type shipmentLabelRequest struct {
	ReserveID string `json:"reserve_id"`
}

func (h *ShipmentHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req shipmentLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	_, ok := h.reservations[req.ReserveID]
	h.mu.Unlock()
	if !ok {
		h.writeError(w, http.StatusNotFound, "reservation not found")
		return
	}

	h.logger.Info("label requested", "reserve_id", req.ReserveID)
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(labelPNG)
}

type shipmentStatusResponse struct {
	Status      string `json:"status"`
	ReserveTime int64  `json:"reserve_time"`
}

func (h *ShipmentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	reserveID := r.URL.Query().Get("reserve_id")
	if reserveID == "" {
		h.writeError(w, http.StatusBadRequest, "missing reserve_id")
		return
	}

	h.mu.Lock()
	res, ok := h.reservations[reserveID]
	h.mu.Unlock()
	if !ok {
		h.writeError(w, http.StatusNotFound, "reservation not found")
		return
	}

	h.writeJSON(w, http.StatusOK, shipmentStatusResponse{Status: res.status, ReserveTime: res.reserveTime})
}

type shipmentAdvanceRequest struct {
	ReserveID string `json:"reserve_id"`
}

func (h *ShipmentHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	var req shipmentAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	res, ok := h.reservations[req.ReserveID]
	if ok {
		switch res.status {
		case "wait_pickup":
			res.status = "shipping"
		case "shipping":
			res.status = "done"
		}
	}
	h.mu.Unlock()

	if !ok {
		h.writeError(w, http.StatusNotFound, "reservation not found")
		return
	}

	h.logger.Info("reservation advanced", "reserve_id", req.ReserveID, "status", res.status)
	h.writeJSON(w, http.StatusOK, shipmentStatusResponse{Status: res.status, ReserveTime: res.reserveTime})
}

// Advance moves a reservation one step forward without going through HTTP,
// for tests that hold the handler directly.
func (h *ShipmentHandler) Advance(reserveID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, ok := h.reservations[reserveID]
	if !ok {
		return
	}
	switch res.status {
	case "wait_pickup":
		res.status = "shipping"
	case "shipping":
		res.status = "done"
	}
}

func (h *ShipmentHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *ShipmentHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Mux returns the stub's routes, shared by cmd/shipmentstub and tests.
func (h *ShipmentHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /create", h.HandleCreate)
	mux.HandleFunc("POST /request", h.HandleRequest)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("POST /advance", h.HandleAdvance)
	return mux
}
