package market

import (
	"context"

	"github.com/tradepost-io/tradepost/internal/domain"
)

// PurchaseRecord is everything RegisterPurchase persists atomically: the item
// snapshot for the evidence row and the address snapshots for the shipping
// placeholder.
type PurchaseRecord struct {
	Item        *domain.Item
	BuyerID     int64
	ToAddress   string
	ToName      string
	FromAddress string
	FromName    string
}

// Store is the ledger behind the orchestrator. The SQL implementation lives
// in repository.go; tests use an in-memory fake. Mutating methods enforce the
// status transitions: an update whose precondition no longer holds affects
// nothing and reports it through its error (or is a no-op where the contract
// says repeated calls are harmless).
type Store interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// CheckItemOnSale takes the exclusive row lock on the item, reads it, and
	// releases the lock before returning. It never holds the lock across a
	// gateway call.
	CheckItemOnSale(ctx context.Context, itemID int64) (*domain.Item, error)

	// RegisterPurchase re-locks the item row, re-checks it is still on sale,
	// and commits the transaction evidence, the shipping placeholder, and the
	// item's move to trading in one transaction. This is the single
	// serialization point between concurrent buyers: at most one call per
	// item succeeds, the rest get ErrItemUnavailable.
	RegisterPurchase(ctx context.Context, rec *PurchaseRecord) (int64, error)

	GetTransactionByItemID(ctx context.Context, itemID int64) (*domain.TransactionEvidence, error)
	GetTransactionByID(ctx context.Context, transactionEvidenceID int64) (*domain.TransactionEvidence, error)
	GetShipping(ctx context.Context, transactionEvidenceID int64) (*domain.Shipping, error)

	// StoreReservation moves the shipping row initial -> wait_pickup with the
	// carrier's reservation. ErrInvalidState if a reservation already landed.
	StoreReservation(ctx context.Context, transactionEvidenceID int64, reserveID string, reserveTime int64) error

	StoreShipmentLabel(ctx context.Context, transactionEvidenceID int64, img []byte) error

	// MarkShipping moves wait_pickup -> shipping. A row already at shipping
	// or done is left alone; reconciliation never moves state backwards.
	MarkShipping(ctx context.Context, transactionEvidenceID int64) error

	// MarkDelivered moves the shipping row to done and the evidence to
	// wait_done in one transaction. Idempotent.
	MarkDelivered(ctx context.Context, transactionEvidenceID int64) error

	// FinalizeTransaction moves the evidence wait_done -> done and the item
	// trading -> sold_out in one transaction. ErrInvalidState if either
	// precondition fails; nothing is partially committed.
	FinalizeTransaction(ctx context.Context, transactionEvidenceID, itemID int64) error

	// UpdateItemPrice changes the price of an item that is still on sale.
	UpdateItemPrice(ctx context.Context, itemID, price int64) (*domain.Item, error)
}
