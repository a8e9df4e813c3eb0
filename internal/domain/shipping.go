package domain

import "time"

type ShippingStatus string

const (
	ShippingStatusInitial    ShippingStatus = "initial"
	ShippingStatusWaitPickup ShippingStatus = "wait_pickup"
	ShippingStatusShipping   ShippingStatus = "shipping"
	ShippingStatusDone       ShippingStatus = "done"
)

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingStatusInitial:    {ShippingStatusWaitPickup},
	ShippingStatusWaitPickup: {ShippingStatusShipping, ShippingStatusDone},
	ShippingStatusShipping:   {ShippingStatusDone},
}

func (s ShippingStatus) CanTransition(next ShippingStatus) bool {
	for _, allowed := range shippingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Shipping tracks physical fulfillment of one transaction, keyed 1:1 by the
// transaction evidence id. ReserveID is empty only while the status is
// initial; once a carrier reservation exists the status is wait_pickup or
// later.
type Shipping struct {
	TransactionEvidenceID int64          `json:"transaction_evidence_id"`
	Status                ShippingStatus `json:"status"`
	ItemName              string         `json:"item_name"`
	ItemID                int64          `json:"item_id"`
	ReserveID             string         `json:"reserve_id"`
	ReserveTime           int64          `json:"reserve_time"`
	ToAddress             string         `json:"to_address"`
	ToName                string         `json:"to_name"`
	FromAddress           string         `json:"from_address"`
	FromName              string         `json:"from_name"`
	ImgBinary             []byte         `json:"-"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}
