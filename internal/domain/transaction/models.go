// Package transaction holds the stored representation of synced
// transactions and the page-apply contract.
package transaction

import "time"

type Transaction struct {
	ID           string
	ConnectionID string
	AccountID    string
	Amount       float64
	Date         time.Time
	Name         string
	MerchantName *string
	Category     *string
	Pending      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Upsert carries one transaction from a sync page into storage.
type Upsert struct {
	ID           string
	AccountID    string
	Amount       float64
	Date         time.Time
	Name         string
	MerchantName *string
	Category     *string
	Pending      bool
}

// Page is one delta page ready to be applied. NextCursor is persisted on
// the connection in the same storage transaction as the row changes.
type Page struct {
	Added      []Upsert
	Modified   []Upsert
	RemovedIDs []string
	NextCursor string
}

// Counts reports how many rows a page touched.
type Counts struct {
	Added    int
	Modified int
	Removed  int
}
