package domain

import "time"

// TransactionCreatedEvent is published after a purchase commits. The
// reconciliation worker uses it to retry a missed carrier reservation and to
// poll the carrier status forward.
type TransactionCreatedEvent struct {
	EventID               string    `json:"event_id"`
	TransactionEvidenceID int64     `json:"transaction_evidence_id"`
	ItemID                int64     `json:"item_id"`
	SellerID              int64     `json:"seller_id"`
	BuyerID               int64     `json:"buyer_id"`
	Price                 int64     `json:"price"`
	Timestamp             time.Time `json:"timestamp"`
}
