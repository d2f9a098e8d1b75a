// Package provider implements the HTTP client for the open-finance
// aggregator API: token exchange, transaction delta sync, balance reads,
// and item management.
package provider

// Transaction is one transaction as reported by the aggregator.
type Transaction struct {
	ID           string  `json:"transaction_id"`
	AccountID    string  `json:"account_id"`
	Amount       float64 `json:"amount"`
	Date         string  `json:"date"`
	Name         string  `json:"name"`
	MerchantName *string `json:"merchant_name"`
	Category     *string `json:"category"`
	Pending      bool    `json:"pending"`
}

// RemovedTransaction carries only the id of a transaction the aggregator
// deleted upstream.
type RemovedTransaction struct {
	ID string `json:"transaction_id"`
}

// SyncPage is one page of the transactions delta feed.
type SyncPage struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

type Balances struct {
	Current   float64  `json:"current"`
	Available *float64 `json:"available"`
}

// Liability holds the credit-specific fields the aggregator returns for
// credit and loan accounts.
type Liability struct {
	APR                *float64 `json:"apr"`
	StatementBalance   *float64 `json:"last_statement_balance"`
	NextPaymentDueDate *string  `json:"next_payment_due_date"`
}

type Account struct {
	ID           string     `json:"account_id"`
	Name         string     `json:"name"`
	OfficialName *string    `json:"official_name"`
	Mask         string     `json:"mask"`
	Type         string     `json:"type"`
	Subtype      string     `json:"subtype"`
	Balances     Balances   `json:"balances"`
	Liability    *Liability `json:"liability,omitempty"`
}

// ExchangeResult is the outcome of trading a public token for a permanent
// access token.
type ExchangeResult struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// ItemStatus reflects the aggregator's view of an item's health.
type ItemStatus struct {
	ErrorCode             *string `json:"error_code"`
	ConsentExpirationTime *string `json:"consent_expiration_time"`
}
