package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tradepost-io/tradepost/internal/domain"
)

// ShipmentRecoverer is what the reconciliation worker needs from the
// orchestrator: retry a missed carrier reservation and pull the carrier
// status forward for one transaction.
type ShipmentRecoverer interface {
	RecoverShipment(ctx context.Context, transactionEvidenceID int64) error
}

// ReconcileHandler consumes transaction.created events and drives each
// transaction's shipping record toward the carrier's view of it.
type ReconcileHandler struct {
	recoverer ShipmentRecoverer
	logger    *slog.Logger
}

func NewReconcileHandler(recoverer ShipmentRecoverer, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		recoverer: recoverer,
		logger:    logger,
	}
}

func (h *ReconcileHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.TransactionCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal transaction created event: %w", err)
	}

	h.logger.Info("reconciling shipment",
		"event_id", event.EventID,
		"transaction_evidence_id", event.TransactionEvidenceID,
		"item_id", event.ItemID)

	if err := h.recoverer.RecoverShipment(ctx, event.TransactionEvidenceID); err != nil {
		h.logger.Error("shipment recovery failed",
			"error", err, "transaction_evidence_id", event.TransactionEvidenceID)
		return fmt.Errorf("recover shipment %d: %w", event.TransactionEvidenceID, err)
	}

	return nil
}
