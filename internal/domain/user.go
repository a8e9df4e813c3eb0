package domain

import "time"

// User carries the fields the purchase workflow needs: the address and
// display name snapshotted into a shipping record at reservation time.
// Registration and login live outside this module.
type User struct {
	ID           int64     `json:"id"`
	AccountName  string    `json:"account_name"`
	Address      string    `json:"address"`
	NumSellItems int       `json:"num_sell_items"`
	CreatedAt    time.Time `json:"created_at"`
}
