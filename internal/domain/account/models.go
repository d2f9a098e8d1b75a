// Package account holds the stored representation of bank accounts.
package account

import "time"

const (
	StatusActive = "active"
	// StatusReplaced marks accounts carried over from a resurrected
	// connection. Kept for history, excluded from balance refreshes.
	StatusReplaced = "replaced"
)

type Account struct {
	ID               string
	ConnectionID     string
	MemberID         string
	Name             string
	OfficialName     *string
	Mask             string
	Type             string
	Subtype          string
	CurrentBalance   float64
	AvailableBalance *float64
	APR              *float64
	StatementBalance *float64
	PaymentDueDate   *time.Time
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BalanceUpdate refreshes the mutable fields of one account during sync.
type BalanceUpdate struct {
	AccountID        string
	Name             string
	OfficialName     *string
	Current          float64
	Available        *float64
	APR              *float64
	StatementBalance *float64
	PaymentDueDate   *time.Time
}
