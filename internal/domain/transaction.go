package domain

import "time"

type TransactionEvidenceStatus string

const (
	TransactionEvidenceStatusWaitShipping TransactionEvidenceStatus = "wait_shipping"
	TransactionEvidenceStatusWaitDone     TransactionEvidenceStatus = "wait_done"
	TransactionEvidenceStatusDone         TransactionEvidenceStatus = "done"
)

var transactionEvidenceTransitions = map[TransactionEvidenceStatus][]TransactionEvidenceStatus{
	TransactionEvidenceStatusWaitShipping: {TransactionEvidenceStatusWaitDone},
	TransactionEvidenceStatusWaitDone:     {TransactionEvidenceStatusDone},
}

func (s TransactionEvidenceStatus) CanTransition(next TransactionEvidenceStatus) bool {
	for _, allowed := range transactionEvidenceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransactionEvidence is the durable record of one purchase. The item_*
// fields are an immutable snapshot taken at purchase time; only Status
// advances afterwards.
type TransactionEvidence struct {
	ID              int64                     `json:"id"`
	SellerID        int64                     `json:"seller_id"`
	BuyerID         int64                     `json:"buyer_id"`
	Status          TransactionEvidenceStatus `json:"status"`
	ItemID          int64                     `json:"item_id"`
	ItemName        string                    `json:"item_name"`
	ItemPrice       int64                     `json:"item_price"`
	ItemDescription string                    `json:"item_description"`
	ItemCategoryID  int64                     `json:"item_category_id"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}
