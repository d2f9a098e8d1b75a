package connection

import (
	"context"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/infrastructure/provider"
)

// Repository is the persistence contract for connections.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Connection, error)
	// GetByID returns (nil, nil) when absent.
	GetByID(ctx context.Context, id string) (*Connection, error)
	GetByItemID(ctx context.Context, itemID string) (*Connection, error)
	Update(ctx context.Context, id string, patch *Patch) error
	// FindByMemberMasks returns connections owning an account whose mask is
	// in masks, for the given member. Drives duplicate detection.
	FindByMemberMasks(ctx context.Context, memberID string, masks []string) ([]*Connection, error)
	// Absorb moves every account and transaction from oldID to newID, marks
	// the moved accounts replaced, and deletes the old connection shell.
	// One storage transaction.
	Absorb(ctx context.Context, oldID, newID string) error
	// MarkInactiveZombies flags disconnected/error connections with zero
	// accounts for (userID, institutionID) as inactive.
	MarkInactiveZombies(ctx context.Context, userID int64, institutionID string) (int64, error)
}

// MemberRepository resolves sub-owners.
type MemberRepository interface {
	GetByID(ctx context.Context, id string) (*Member, error)
	FindOrCreatePrimary(ctx context.Context, userID int64) (*Member, error)
}

// AccountStore stores and reads the accounts of a connection. Declared
// here (not in domain/account) so the lifecycle service depends only on
// what it uses.
type AccountStore interface {
	UpsertFromProvider(ctx context.Context, connectionID, memberID string, accounts []provider.Account) error
	ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error)
}

// TransactionReader serves the connection-scoped transaction reads.
type TransactionReader interface {
	ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.Transaction, error)
	CountByConnection(ctx context.Context, connectionID string) (int64, error)
}

// CredentialStore is the append-only vault contract.
type CredentialStore interface {
	Create(ctx context.Context, secret string) (string, error)
	Read(ctx context.Context, id string) (string, error)
}

// ProviderClient is the subset of the provider API the lifecycle needs.
type ProviderClient interface {
	ExchangePublicToken(ctx context.Context, publicToken string) (*provider.ExchangeResult, error)
	GetBalances(ctx context.Context, accessToken string) ([]provider.Account, error)
	RemoveItem(ctx context.Context, accessToken string) error
	GetItemStatus(ctx context.Context, accessToken string) (*provider.ItemStatus, error)
}
