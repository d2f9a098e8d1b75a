// Package connection manages the lifecycle of linked bank connections:
// linking, duplicate detection, resurrection of disconnected items,
// disconnect, and status reporting.
package connection

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a Connection.
type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	// StatusInactive marks cleaned-up zombie shells. Terminal.
	StatusInactive Status = "inactive"
)

var (
	ErrNotFound       = errors.New("connection not found")
	ErrMemberNotFound = errors.New("member not found")
	// ErrDuplicateItem signals a unique-constraint collision on the provider
	// item id, i.e. a concurrent link of the same item.
	ErrDuplicateItem = errors.New("connection already exists for item")
)

// Connection is one linked institution login ("item" in provider terms).
type Connection struct {
	ID              string
	UserID          int64
	MemberID        string
	ItemID          string
	InstitutionID   string
	InstitutionName string
	Status          Status
	ProviderError   *string
	CredentialID    string
	Cursor          *string
	LastSyncedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Member is a sub-owner inside a user's household. Every connection and
// account is assigned to exactly one member.
type Member struct {
	ID        string
	UserID    int64
	Name      string
	IsPrimary bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateParams struct {
	ID              string
	UserID          int64
	MemberID        string
	ItemID          string
	InstitutionID   string
	InstitutionName string
	CredentialID    string
}
