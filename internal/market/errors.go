package market

import "errors"

var (
	// ErrItemNotFound: no item row with the given id.
	ErrItemNotFound = errors.New("item not found")

	// ErrItemUnavailable: the item exists but is not on sale, including the
	// case where another buyer won the race for it.
	ErrItemUnavailable = errors.New("item is not on sale")

	// ErrSelfPurchase: a seller tried to buy their own item.
	ErrSelfPurchase = errors.New("cannot buy own item")

	// ErrNotSeller / ErrNotBuyer: the caller does not own that side of the
	// transaction.
	ErrNotSeller = errors.New("caller is not the seller")
	ErrNotBuyer  = errors.New("caller is not the buyer")

	// ErrInvalidState: the transaction or shipping record is not in a state
	// the requested operation is allowed from.
	ErrInvalidState = errors.New("transaction is in an invalid state for this operation")

	// ErrShipmentNotDelivered: the carrier has not confirmed delivery, so the
	// buyer cannot complete yet.
	ErrShipmentNotDelivered = errors.New("shipment is not delivered yet")

	// ErrInvalidPrice: price outside the allowed range.
	ErrInvalidPrice = errors.New("item price out of range")

	// ErrUserNotFound: missing address snapshot source.
	ErrUserNotFound = errors.New("user not found")

	// ErrTransactionNotFound: no transaction evidence for the item.
	ErrTransactionNotFound = errors.New("transaction evidence not found")
)
