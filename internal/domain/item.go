package domain

import "time"

type ItemStatus string

const (
	ItemStatusOnSale  ItemStatus = "on_sale"
	ItemStatusTrading ItemStatus = "trading"
	ItemStatusSoldOut ItemStatus = "sold_out"
	ItemStatusStop    ItemStatus = "stop"
	ItemStatusCancel  ItemStatus = "cancel"
)

const (
	ItemMinPrice int64 = 100
	ItemMaxPrice int64 = 1000000
)

// itemTransitions lists every allowed item status change. Anything not
// listed is rejected at the mutation site.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusOnSale:  {ItemStatusTrading, ItemStatusStop, ItemStatusCancel},
	ItemStatusTrading: {ItemStatusSoldOut},
	ItemStatusStop:    {ItemStatusOnSale, ItemStatusCancel},
}

func (s ItemStatus) CanTransition(next ItemStatus) bool {
	for _, allowed := range itemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Item is a listed product. BuyerID is 0 until the item enters trading;
// it is set if and only if the status is trading or sold_out.
type Item struct {
	ID          int64      `json:"id"`
	SellerID    int64      `json:"seller_id"`
	BuyerID     int64      `json:"buyer_id,omitempty"`
	Status      ItemStatus `json:"status"`
	Name        string     `json:"name"`
	Price       int64      `json:"price"`
	Description string     `json:"description"`
	ImageName   string     `json:"image_name"`
	CategoryID  int64      `json:"category_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func ValidItemPrice(price int64) bool {
	return price >= ItemMinPrice && price <= ItemMaxPrice
}
