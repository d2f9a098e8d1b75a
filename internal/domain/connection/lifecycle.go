package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/infrastructure/provider"
	"bankfeed/internal/shared/retry"
	"bankfeed/internal/shared/tasks"
)

// LinkAccount is one account the link flow reports before exchange.
type LinkAccount struct {
	Name string `json:"name"`
	Mask string `json:"mask"`
}

// LinkMetadata describes the institution and accounts the user selected in
// the link flow. Available before any token is exchanged, which is what
// makes pre-exchange duplicate detection possible.
type LinkMetadata struct {
	InstitutionID   string        `json:"institutionId"`
	InstitutionName string        `json:"institutionName"`
	Accounts        []LinkAccount `json:"accounts"`
}

type LinkResult struct {
	ConnectionID string `json:"connectionId"`
	Duplicate    bool   `json:"duplicate"`
	Resurrected  bool   `json:"resurrected"`
}

// StatusResult is the merged local and provider view of a connection.
type StatusResult struct {
	Status           string     `json:"status"`
	ProviderError    *string    `json:"error,omitempty"`
	ConsentExpiresAt *string    `json:"consentExpirationTime,omitempty"`
	LastSyncedAt     *time.Time `json:"lastSyncedAt,omitempty"`
}

// SyncFunc triggers a transaction sync for a connection. Injected so this
// package does not depend on the sync engine.
type SyncFunc func(ctx context.Context, userID int64, connectionID string) error

// Service implements the connection lifecycle: link (with duplicate
// detection and resurrection), disconnect, status, and the
// connection-scoped reads.
type Service struct {
	client       ProviderClient
	creds        CredentialStore
	connections  Repository
	members      MemberRepository
	accounts     AccountStore
	transactions TransactionReader
	dispatcher   tasks.Dispatcher
	initialSync  SyncFunc
	retryPolicy  retry.Policy
}

func NewService(
	client ProviderClient,
	creds CredentialStore,
	connections Repository,
	members MemberRepository,
	accounts AccountStore,
	transactions TransactionReader,
	dispatcher tasks.Dispatcher,
	initialSync SyncFunc,
) *Service {
	return &Service{
		client:       client,
		creds:        creds,
		connections:  connections,
		members:      members,
		accounts:     accounts,
		transactions: transactions,
		dispatcher:   dispatcher,
		initialSync:  initialSync,
		retryPolicy:  retry.DefaultPolicy,
	}
}

// Link exchanges a public token for a new connection. Duplicate detection
// runs on the link metadata before the exchange, so linking an already
// active institution never burns a token. A disconnected or errored match
// is resurrected: its history transfers to the new connection.
func (s *Service) Link(ctx context.Context, userID int64, publicToken string, md LinkMetadata, memberID string) (*LinkResult, error) {
	member, err := s.resolveMember(ctx, userID, memberID)
	if err != nil {
		return nil, err
	}

	masks := make([]string, 0, len(md.Accounts))
	for _, a := range md.Accounts {
		if a.Mask != "" {
			masks = append(masks, a.Mask)
		}
	}

	matches, err := s.connections.FindByMemberMasks(ctx, member.ID, masks)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate connections: %w", err)
	}

	var revive *Connection
	for _, match := range matches {
		switch match.Status {
		case StatusActive:
			if _, err := s.connections.MarkInactiveZombies(ctx, userID, match.InstitutionID); err != nil {
				log.Printf("zombie cleanup failed for institution %s: %v", match.InstitutionID, err)
			}
			return &LinkResult{ConnectionID: match.ID, Duplicate: true}, nil
		case StatusDisconnected, StatusError:
			if revive == nil {
				revive = match
			}
		}
	}

	exchanged, err := retry.Do(ctx, s.retryPolicy, provider.IsRetryable, func(ctx context.Context) (*provider.ExchangeResult, error) {
		return s.client.ExchangePublicToken(ctx, publicToken)
	})
	if err != nil {
		return nil, fmt.Errorf("exchanging public token: %w", err)
	}

	// The secret is stored before the connection row exists. If the create
	// below fails, the vault entry is orphaned rather than the token lost.
	credentialID, err := s.creds.Create(ctx, exchanged.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("storing access token: %w", err)
	}

	conn, err := s.connections.Create(ctx, CreateParams{
		ID:              uuid.NewString(),
		UserID:          userID,
		MemberID:        member.ID,
		ItemID:          exchanged.ItemID,
		InstitutionID:   md.InstitutionID,
		InstitutionName: md.InstitutionName,
		CredentialID:    credentialID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateItem) {
			winner, getErr := s.connections.GetByItemID(ctx, exchanged.ItemID)
			if getErr == nil && winner != nil && winner.UserID == userID {
				return &LinkResult{ConnectionID: winner.ID, Duplicate: true}, nil
			}
		}
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	providerAccounts, err := retry.Do(ctx, s.retryPolicy, provider.IsRetryable, func(ctx context.Context) ([]provider.Account, error) {
		return s.client.GetBalances(ctx, exchanged.AccessToken)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching accounts for new connection: %w", err)
	}

	if err := s.accounts.UpsertFromProvider(ctx, conn.ID, member.ID, providerAccounts); err != nil {
		return nil, fmt.Errorf("storing accounts: %w", err)
	}

	result := &LinkResult{ConnectionID: conn.ID}
	if revive != nil {
		if err := s.connections.Absorb(ctx, revive.ID, conn.ID); err != nil {
			return nil, fmt.Errorf("resurrecting connection %s: %w", revive.ID, err)
		}
		result.Resurrected = true
	}

	s.dispatchInitialSync(userID, conn.ID)
	return result, nil
}

// Disconnect marks the connection disconnected and best-effort revokes the
// item upstream. The stored credential is untouched, so a later relink can
// resurrect the history. Idempotent.
func (s *Service) Disconnect(ctx context.Context, userID int64, connectionID string) error {
	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if conn.Status == StatusDisconnected || conn.Status == StatusInactive {
		return nil
	}

	if token, err := s.creds.Read(ctx, conn.CredentialID); err != nil {
		log.Printf("skipping provider revoke for connection %s: %v", conn.ID, err)
	} else if err := s.client.RemoveItem(ctx, token); err != nil {
		log.Printf("provider revoke failed for connection %s: %v", conn.ID, err)
	}

	patch := NewPatch().SetStatus(StatusDisconnected)
	return s.connections.Update(ctx, conn.ID, patch)
}

// Status merges the stored state with the aggregator's item health. A
// provider-reported login error is persisted and surfaced as needs_reauth;
// if the aggregator says the item is healthy again, a stored error status
// heals back to active.
func (s *Service) Status(ctx context.Context, userID int64, connectionID string) (*StatusResult, error) {
	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Status:        string(conn.Status),
		ProviderError: conn.ProviderError,
		LastSyncedAt:  conn.LastSyncedAt,
	}

	if conn.Status == StatusInactive || conn.Status == StatusDisconnected {
		return result, nil
	}

	token, err := s.creds.Read(ctx, conn.CredentialID)
	if err != nil {
		log.Printf("status check using stored state for connection %s: %v", conn.ID, err)
		return result, nil
	}

	item, err := s.client.GetItemStatus(ctx, token)
	if err != nil {
		log.Printf("status check using stored state for connection %s: %v", conn.ID, err)
		return result, nil
	}
	result.ConsentExpiresAt = item.ConsentExpirationTime

	switch {
	case item.ErrorCode != nil:
		patch := NewPatch().SetStatus(StatusError).SetProviderError(*item.ErrorCode)
		if err := s.connections.Update(ctx, conn.ID, patch); err != nil {
			log.Printf("failed to persist provider error for connection %s: %v", conn.ID, err)
		}
		result.ProviderError = item.ErrorCode
		if *item.ErrorCode == provider.CodeItemLoginRequired {
			result.Status = "needs_reauth"
		} else {
			result.Status = string(StatusError)
		}
	case conn.Status == StatusError:
		patch := NewPatch().SetStatus(StatusActive).ClearProviderError()
		if err := s.connections.Update(ctx, conn.ID, patch); err != nil {
			log.Printf("failed to heal connection %s: %v", conn.ID, err)
		}
		result.Status = string(StatusActive)
		result.ProviderError = nil
	}

	return result, nil
}

// Accounts lists the accounts stored for a connection the caller owns,
// resurrected history included.
func (s *Service) Accounts(ctx context.Context, userID int64, connectionID string) ([]*account.Account, error) {
	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for connection %s: %w", conn.ID, err)
	}
	return accounts, nil
}

// Transactions pages through the stored transactions of a connection the
// caller owns, newest first, and reports the connection total.
func (s *Service) Transactions(ctx context.Context, userID int64, connectionID string, limit, offset int) ([]*transaction.Transaction, int64, error) {
	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, 0, err
	}

	txns, err := s.transactions.ListByConnection(ctx, conn.ID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions for connection %s: %w", conn.ID, err)
	}
	total, err := s.transactions.CountByConnection(ctx, conn.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("counting transactions for connection %s: %w", conn.ID, err)
	}
	return txns, total, nil
}

func (s *Service) resolveMember(ctx context.Context, userID int64, memberID string) (*Member, error) {
	if memberID == "" {
		member, err := s.members.FindOrCreatePrimary(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolving primary member: %w", err)
		}
		return member, nil
	}

	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("resolving member: %w", err)
	}
	if member == nil || member.UserID != userID {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) ownedConnection(ctx context.Context, userID int64, connectionID string) (*Connection, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.UserID != userID {
		return nil, ErrNotFound
	}
	return conn, nil
}

func (s *Service) dispatchInitialSync(userID int64, connectionID string) {
	if s.initialSync == nil {
		return
	}
	err := s.dispatcher.Dispatch(tasks.Task{
		Name: "initial-sync",
		Run: func(ctx context.Context) error {
			return s.initialSync(ctx, userID, connectionID)
		},
	})
	if err != nil {
		log.Printf("failed to dispatch initial sync for connection %s: %v", connectionID, err)
	}
}
