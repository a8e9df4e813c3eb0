package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradepost-io/tradepost/internal/domain"
	"github.com/tradepost-io/tradepost/internal/messaging"
	"github.com/tradepost-io/tradepost/internal/payment"
	"github.com/tradepost-io/tradepost/internal/shipment"
)

var tracer = otel.Tracer("market/orchestrator")

// Orchestrator drives the purchase-to-completion workflow: it validates
// preconditions against the ledger, talks to the payment and shipment
// gateways, and advances the item / transaction evidence / shipping state
// machines. It is safe for concurrent use; the item row lock inside the store
// is the only serialization point between unrelated requests.
type Orchestrator struct {
	store     Store
	payments  *payment.Client
	shipments *shipment.Client
	producer  *messaging.Producer
	logger    *slog.Logger

	purchases       metric.Int64Counter
	declines        metric.Int64Counter
	reconciliations metric.Int64Counter
}

func NewOrchestrator(store Store, payments *payment.Client, shipments *shipment.Client, producer *messaging.Producer, logger *slog.Logger) (*Orchestrator, error) {
	meter := otel.Meter("market/orchestrator")

	purchases, err := meter.Int64Counter("market.purchases",
		metric.WithDescription("Completed purchase registrations."))
	if err != nil {
		return nil, err
	}
	declines, err := meter.Int64Counter("market.payment_declines",
		metric.WithDescription("Payment attempts declined by the payment service."))
	if err != nil {
		return nil, err
	}
	reconciliations, err := meter.Int64Counter("market.shipment_reconciliations",
		metric.WithDescription("Carrier status reconciliations applied to local state."))
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:           store,
		payments:        payments,
		shipments:       shipments,
		producer:        producer,
		logger:          logger,
		purchases:       purchases,
		declines:        declines,
		reconciliations: reconciliations,
	}, nil
}

// Buy purchases an on-sale item for buyerID, charging the given card token.
// On success the item is trading, a wait_shipping transaction evidence and an
// initial shipping row exist, and the evidence id is returned. A failed
// carrier reservation does not fail the purchase: payment is already
// captured, so the shipping row stays at initial and is picked up later by
// ShipNotify or the reconciliation worker.
func (o *Orchestrator) Buy(ctx context.Context, itemID, buyerID int64, token string) (int64, error) {
	ctx, span := tracer.Start(ctx, "Buy", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
	))
	defer span.End()

	// Lock, validate, release. The lock is not held across the payment call.
	item, err := o.store.CheckItemOnSale(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Status != domain.ItemStatusOnSale {
		return 0, ErrItemUnavailable
	}
	if item.SellerID == buyerID {
		return 0, ErrSelfPurchase
	}

	buyer, err := o.store.GetUser(ctx, buyerID)
	if err != nil {
		return 0, err
	}
	seller, err := o.store.GetUser(ctx, item.SellerID)
	if err != nil {
		return 0, err
	}

	// Charge before any row is written: a decline leaves the item untouched.
	if err := o.payments.Charge(ctx, token, item.Price); err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			o.declines.Add(ctx, 1)
			o.logger.Info("payment declined", "item_id", itemID, "buyer_id", buyerID)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return 0, err
	}

	transactionEvidenceID, err := o.store.RegisterPurchase(ctx, &PurchaseRecord{
		Item:        item,
		BuyerID:     buyerID,
		ToAddress:   buyer.Address,
		ToName:      buyer.AccountName,
		FromAddress: seller.Address,
		FromName:    seller.AccountName,
	})
	if err != nil {
		if errors.Is(err, ErrItemUnavailable) {
			o.logger.Warn("payment captured but item no longer on sale", "item_id", itemID, "buyer_id", buyerID)
		}
		return 0, err
	}

	o.purchases.Add(ctx, 1)
	o.logger.Info("purchase registered",
		"item_id", itemID, "buyer_id", buyerID,
		"transaction_evidence_id", transactionEvidenceID, "price", item.Price)

	if o.producer != nil {
		event := domain.TransactionCreatedEvent{
			EventID:               uuid.New().String(),
			TransactionEvidenceID: transactionEvidenceID,
			ItemID:                itemID,
			SellerID:              item.SellerID,
			BuyerID:               buyerID,
			Price:                 item.Price,
			Timestamp:             time.Now().UTC(),
		}
		if err := o.producer.Publish(ctx, strconv.FormatInt(itemID, 10), event); err != nil {
			o.logger.Error("failed to publish transaction created event", "error", err, "item_id", itemID)
		}
	}

	// Reservation failure is not rolled back; the workflow favors forward
	// recovery once money has moved.
	reservation, err := o.shipments.CreateReservation(ctx, buyer.Address, buyer.AccountName, seller.Address, seller.AccountName)
	if err != nil {
		o.logger.Warn("shipment reservation failed, shipping stays at initial",
			"error", err, "transaction_evidence_id", transactionEvidenceID)
		return transactionEvidenceID, nil
	}
	if err := o.store.StoreReservation(ctx, transactionEvidenceID, reservation.ReserveID, reservation.ReserveTime); err != nil {
		o.logger.Warn("failed to persist shipment reservation",
			"error", err, "transaction_evidence_id", transactionEvidenceID)
		return transactionEvidenceID, nil
	}

	return transactionEvidenceID, nil
}

// ShipNotifyResult is what the seller needs to hand the package over: the
// carrier reservation and the printable label.
type ShipNotifyResult struct {
	ReserveID string
	Label     []byte
}

// ShipNotify is the seller's ship announcement. If the carrier reservation
// was never obtained (Buy's reservation call failed) it is retried here, then
// the shipment label is fetched and stored. The transaction evidence stays at
// wait_shipping until the carrier confirms pickup.
func (o *Orchestrator) ShipNotify(ctx context.Context, itemID, sellerID int64) (*ShipNotifyResult, error) {
	ctx, span := tracer.Start(ctx, "ShipNotify", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
	))
	defer span.End()

	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerID != sellerID {
		return nil, ErrNotSeller
	}

	te, err := o.store.GetTransactionByItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if te.Status != domain.TransactionEvidenceStatusWaitShipping {
		return nil, ErrInvalidState
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return nil, err
	}

	if shp.Status == domain.ShippingStatusInitial {
		reservation, err := o.shipments.CreateReservation(ctx, shp.ToAddress, shp.ToName, shp.FromAddress, shp.FromName)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if err := o.store.StoreReservation(ctx, te.ID, reservation.ReserveID, reservation.ReserveTime); err != nil {
			return nil, err
		}
		shp.ReserveID = reservation.ReserveID
		o.logger.Info("shipment reservation recovered",
			"transaction_evidence_id", te.ID, "reserve_id", reservation.ReserveID)
	}

	label, err := o.shipments.RequestLabel(ctx, shp.ReserveID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.store.StoreShipmentLabel(ctx, te.ID, label); err != nil {
		return nil, err
	}

	o.logger.Info("shipment label issued", "transaction_evidence_id", te.ID, "reserve_id", shp.ReserveID)
	return &ShipNotifyResult{ReserveID: shp.ReserveID, Label: label}, nil
}

// ShipmentState is the joint view after a reconciliation.
type ShipmentState struct {
	TransactionEvidenceID     int64                            `json:"transaction_evidence_id"`
	TransactionEvidenceStatus domain.TransactionEvidenceStatus `json:"transaction_evidence_status"`
	ShippingStatus            domain.ShippingStatus            `json:"shipping_status"`
}

// ShipDone reconciles local shipping state with the carrier. Local status is
// derived from the carrier's answer and never advanced past it: calling this
// before the carrier accepted the package changes nothing and is safe to
// repeat.
func (o *Orchestrator) ShipDone(ctx context.Context, itemID int64) (*ShipmentState, error) {
	ctx, span := tracer.Start(ctx, "ShipDone", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
	))
	defer span.End()

	te, err := o.store.GetTransactionByItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if te.Status == domain.TransactionEvidenceStatusDone {
		return nil, ErrInvalidState
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return nil, err
	}
	if shp.Status == domain.ShippingStatusInitial {
		// No reservation to ask the carrier about yet.
		return nil, ErrInvalidState
	}

	teStatus, shpStatus, err := o.reconcileShipment(ctx, te, shp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &ShipmentState{
		TransactionEvidenceID:     te.ID,
		TransactionEvidenceStatus: teStatus,
		ShippingStatus:            shpStatus,
	}, nil
}

// Complete is the buyer's receipt confirmation. Delivery is re-verified
// against the carrier first, so a buyer cannot confirm receipt before the
// carrier reports the package delivered.
func (o *Orchestrator) Complete(ctx context.Context, itemID, buyerID int64) error {
	ctx, span := tracer.Start(ctx, "Complete", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
	))
	defer span.End()

	te, err := o.store.GetTransactionByItemID(ctx, itemID)
	if err != nil {
		return err
	}
	if te.BuyerID != buyerID {
		return ErrNotBuyer
	}
	if te.Status == domain.TransactionEvidenceStatusDone {
		return ErrInvalidState
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return err
	}
	if shp.Status == domain.ShippingStatusInitial {
		return ErrShipmentNotDelivered
	}

	teStatus, shpStatus, err := o.reconcileShipment(ctx, te, shp)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if teStatus != domain.TransactionEvidenceStatusWaitDone || shpStatus != domain.ShippingStatusDone {
		return ErrShipmentNotDelivered
	}

	if err := o.store.FinalizeTransaction(ctx, te.ID, te.ItemID); err != nil {
		return err
	}

	o.logger.Info("transaction completed", "item_id", itemID, "transaction_evidence_id", te.ID)
	return nil
}

// RecoverShipment is the worker's entry point: retry a missed carrier
// reservation and pull the carrier status forward. A transaction that already
// left wait_shipping needs nothing.
func (o *Orchestrator) RecoverShipment(ctx context.Context, transactionEvidenceID int64) error {
	te, err := o.store.GetTransactionByID(ctx, transactionEvidenceID)
	if err != nil {
		return err
	}
	if te.Status != domain.TransactionEvidenceStatusWaitShipping {
		return nil
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return err
	}

	if shp.Status == domain.ShippingStatusInitial {
		reservation, err := o.shipments.CreateReservation(ctx, shp.ToAddress, shp.ToName, shp.FromAddress, shp.FromName)
		if err != nil {
			return fmt.Errorf("recover reservation: %w", err)
		}
		if err := o.store.StoreReservation(ctx, te.ID, reservation.ReserveID, reservation.ReserveTime); err != nil {
			if !errors.Is(err, ErrInvalidState) {
				return err
			}
			// Someone else stored a reservation first; reload and go on.
			shp, err = o.store.GetShipping(ctx, te.ID)
			if err != nil {
				return err
			}
		} else {
			shp.ReserveID = reservation.ReserveID
			shp.Status = domain.ShippingStatusWaitPickup
			o.logger.Info("shipment reservation recovered",
				"transaction_evidence_id", te.ID, "reserve_id", reservation.ReserveID)
		}
	}

	if _, _, err := o.reconcileShipment(ctx, te, shp); err != nil {
		return err
	}
	return nil
}

// reconcileShipment maps the carrier's status onto local state:
// shipping moves the shipping row to shipping, done moves it to done and the
// evidence to wait_done. wait_pickup changes nothing.
func (o *Orchestrator) reconcileShipment(ctx context.Context, te *domain.TransactionEvidence, shp *domain.Shipping) (domain.TransactionEvidenceStatus, domain.ShippingStatus, error) {
	carrierStatus, err := o.shipments.Status(ctx, shp.ReserveID)
	if err != nil {
		return te.Status, shp.Status, err
	}

	teStatus := te.Status
	shpStatus := shp.Status

	switch carrierStatus {
	case shipment.CarrierStatusShipping:
		if shpStatus == domain.ShippingStatusWaitPickup {
			if err := o.store.MarkShipping(ctx, te.ID); err != nil {
				return teStatus, shpStatus, err
			}
			shpStatus = domain.ShippingStatusShipping
			o.reconciliations.Add(ctx, 1)
			o.logger.Info("shipment picked up", "transaction_evidence_id", te.ID)
		}
	case shipment.CarrierStatusDone:
		if shpStatus != domain.ShippingStatusDone || teStatus == domain.TransactionEvidenceStatusWaitShipping {
			if err := o.store.MarkDelivered(ctx, te.ID); err != nil {
				return teStatus, shpStatus, err
			}
			shpStatus = domain.ShippingStatusDone
			if teStatus == domain.TransactionEvidenceStatusWaitShipping {
				teStatus = domain.TransactionEvidenceStatusWaitDone
			}
			o.reconciliations.Add(ctx, 1)
			o.logger.Info("shipment delivered", "transaction_evidence_id", te.ID)
		}
	}

	return teStatus, shpStatus, nil
}

// TransactionView is the joint item / evidence / shipping state for an item,
// for status queries from the outer layers.
type TransactionView struct {
	Item                *domain.Item                `json:"item"`
	TransactionEvidence *domain.TransactionEvidence `json:"transaction_evidence"`
	Shipping            *domain.Shipping            `json:"shipping"`
}

func (o *Orchestrator) GetTransaction(ctx context.Context, itemID int64) (*TransactionView, error) {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	te, err := o.store.GetTransactionByItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return nil, err
	}

	return &TransactionView{Item: item, TransactionEvidence: te, Shipping: shp}, nil
}

// EditPrice changes the price of the caller's own on-sale item, keeping the
// price inside the allowed range.
func (o *Orchestrator) EditPrice(ctx context.Context, itemID, sellerID, price int64) (*domain.Item, error) {
	if !domain.ValidItemPrice(price) {
		return nil, ErrInvalidPrice
	}

	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerID != sellerID {
		return nil, ErrNotSeller
	}

	updated, err := o.store.UpdateItemPrice(ctx, itemID, price)
	if err != nil {
		return nil, err
	}

	o.logger.Info("item price updated", "item_id", itemID, "price", price)
	return updated, nil
}

// ShipmentLabel returns the stored label image for the item's transaction.
func (o *Orchestrator) ShipmentLabel(ctx context.Context, itemID int64) ([]byte, error) {
	te, err := o.store.GetTransactionByItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	shp, err := o.store.GetShipping(ctx, te.ID)
	if err != nil {
		return nil, err
	}
	if len(shp.ImgBinary) == 0 {
		return nil, ErrInvalidState
	}

	return shp.ImgBinary, nil
}
