// Package sync runs the cursor-based transaction delta sync against the
// aggregator and applies each page atomically.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/benefit"
	"bankfeed/internal/domain/connection"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/infrastructure/provider"
	"bankfeed/internal/shared/retry"
	"bankfeed/internal/shared/tasks"
)

// maxPages caps one sync run. Hitting the cap is a normal outcome: the
// cursor is already persisted, so the next run picks up where this one
// stopped.
const maxPages = 50

// ReloadConfirmation must be sent verbatim to authorize a destructive
// reload.
const ReloadConfirmation = "RELOAD MY TRANSACTIONS"

var ErrConfirmationMismatch = errors.New("reload confirmation mismatch")

type ProviderClient interface {
	SyncTransactions(ctx context.Context, accessToken, cursor string) (*provider.SyncPage, error)
	GetBalances(ctx context.Context, accessToken string) ([]provider.Account, error)
}

type ConnectionStore interface {
	GetByID(ctx context.Context, id string) (*connection.Connection, error)
	Update(ctx context.Context, id string, patch *connection.Patch) error
}

type TransactionStore interface {
	ApplyPage(ctx context.Context, connectionID string, page transaction.Page) (transaction.Counts, error)
	Purge(ctx context.Context, connectionID string) (int64, error)
}

type BalanceStore interface {
	UpdateBalances(ctx context.Context, connectionID string, updates []account.BalanceUpdate) (int, error)
}

type CredentialReader interface {
	Read(ctx context.Context, id string) (string, error)
}

// Result summarizes one sync run.
type Result struct {
	Added      int    `json:"added"`
	Modified   int    `json:"modified"`
	Removed    int    `json:"removed"`
	Pages      int    `json:"pages"`
	NextCursor string `json:"nextCursor"`
}

// ReloadResult summarizes a destructive reload.
type ReloadResult struct {
	Deleted  int64 `json:"deletedCount"`
	Reloaded int   `json:"reloadedCount"`
}

type Engine struct {
	client       ProviderClient
	creds        CredentialReader
	connections  ConnectionStore
	transactions TransactionStore
	accounts     BalanceStore
	dispatcher   tasks.Dispatcher
	matcher      benefit.Matcher
	retryPolicy  retry.Policy
}

func NewEngine(
	client ProviderClient,
	creds CredentialReader,
	connections ConnectionStore,
	transactions TransactionStore,
	accounts BalanceStore,
	dispatcher tasks.Dispatcher,
	matcher benefit.Matcher,
) *Engine {
	return &Engine{
		client:       client,
		creds:        creds,
		connections:  connections,
		transactions: transactions,
		accounts:     accounts,
		dispatcher:   dispatcher,
		matcher:      matcher,
		retryPolicy:  retry.DefaultPolicy,
	}
}

// Sync pulls the delta feed for the connection until the aggregator reports
// no more pages or the page cap is reached. Each page lands atomically with
// its cursor, so a failure mid-run loses no committed work.
func (e *Engine) Sync(ctx context.Context, userID int64, connectionID string) (*Result, error) {
	conn, err := e.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.UserID != userID {
		return nil, connection.ErrNotFound
	}

	token, err := e.creds.Read(ctx, conn.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("reading credential for connection %s: %w", conn.ID, err)
	}

	cursor := ""
	if conn.Cursor != nil {
		cursor = *conn.Cursor
	}

	var result Result
	for result.Pages < maxPages {
		page, err := retry.Do(ctx, e.retryPolicy, provider.IsRetryable, func(ctx context.Context) (*provider.SyncPage, error) {
			return e.client.SyncTransactions(ctx, token, cursor)
		})
		if err != nil {
			e.recordProviderFailure(ctx, conn, err)
			return nil, fmt.Errorf("fetching sync page: %w", err)
		}

		domainPage, err := toDomainPage(page)
		if err != nil {
			return nil, err
		}

		counts, err := e.transactions.ApplyPage(ctx, conn.ID, domainPage)
		if err != nil {
			return nil, fmt.Errorf("applying sync page: %w", err)
		}

		result.Added += counts.Added
		result.Modified += counts.Modified
		result.Removed += counts.Removed
		result.Pages++
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}
	result.NextCursor = cursor

	if result.Pages == maxPages {
		log.Printf("sync for connection %s stopped at page cap, will resume from cursor", conn.ID)
	}

	e.refreshBalances(ctx, conn, token)

	if conn.Status == connection.StatusError {
		patch := connection.NewPatch().SetStatus(connection.StatusActive).ClearProviderError()
		if err := e.connections.Update(ctx, conn.ID, patch); err != nil {
			log.Printf("failed to clear error status for connection %s: %v", conn.ID, err)
		}
	}

	if result.Added+result.Modified > 0 {
		e.dispatchMatch(conn.ID, result.Added, result.Modified)
	}

	return &result, nil
}

// Reload wipes the connection's transactions and replays full history from
// an empty cursor. Requires the exact confirmation phrase.
func (e *Engine) Reload(ctx context.Context, userID int64, connectionID, confirmation string) (*ReloadResult, error) {
	if confirmation != ReloadConfirmation {
		return nil, ErrConfirmationMismatch
	}

	conn, err := e.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.UserID != userID {
		return nil, connection.ErrNotFound
	}

	deleted, err := e.transactions.Purge(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("purging transactions: %w", err)
	}

	result, err := e.Sync(ctx, userID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("reloading transactions: %w", err)
	}

	return &ReloadResult{Deleted: deleted, Reloaded: result.Added}, nil
}

// refreshBalances is best effort: a balance failure never fails a sync
// whose transaction pages already committed.
func (e *Engine) refreshBalances(ctx context.Context, conn *connection.Connection, token string) {
	accounts, err := retry.Do(ctx, e.retryPolicy, provider.IsRetryable, func(ctx context.Context) ([]provider.Account, error) {
		return e.client.GetBalances(ctx, token)
	})
	if err != nil {
		log.Printf("balance refresh failed for connection %s: %v", conn.ID, err)
		return
	}

	updates := make([]account.BalanceUpdate, 0, len(accounts))
	for _, a := range accounts {
		u := account.BalanceUpdate{
			AccountID:    a.ID,
			Name:         a.Name,
			OfficialName: a.OfficialName,
			Current:      a.Balances.Current,
			Available:    a.Balances.Available,
		}
		if a.Liability != nil {
			u.APR = a.Liability.APR
			u.StatementBalance = a.Liability.StatementBalance
			u.PaymentDueDate = parseDatePtr(a.Liability.NextPaymentDueDate)
		}
		updates = append(updates, u)
	}

	if _, err := e.accounts.UpdateBalances(ctx, conn.ID, updates); err != nil {
		log.Printf("failed to store balances for connection %s: %v", conn.ID, err)
	}
}

// recordProviderFailure persists a terminal credential failure so the
// status endpoint can report needs_reauth without another provider call.
func (e *Engine) recordProviderFailure(ctx context.Context, conn *connection.Connection, err error) {
	if provider.IsRetryable(err) {
		return
	}
	code := provider.ErrorCode(err)
	if code == "" {
		return
	}

	patch := connection.NewPatch().SetStatus(connection.StatusError).SetProviderError(code)
	if updateErr := e.connections.Update(ctx, conn.ID, patch); updateErr != nil {
		log.Printf("failed to record provider error for connection %s: %v", conn.ID, updateErr)
	}
}

func (e *Engine) dispatchMatch(connectionID string, added, modified int) {
	err := e.dispatcher.Dispatch(tasks.Task{
		Name: "benefit-match",
		Run: func(ctx context.Context) error {
			return e.matcher.Match(ctx, connectionID, added, modified)
		},
	})
	if err != nil {
		log.Printf("failed to dispatch benefit match for connection %s: %v", connectionID, err)
	}
}

func toDomainPage(page *provider.SyncPage) (transaction.Page, error) {
	out := transaction.Page{NextCursor: page.NextCursor}

	var err error
	if out.Added, err = toUpserts(page.Added); err != nil {
		return out, err
	}
	if out.Modified, err = toUpserts(page.Modified); err != nil {
		return out, err
	}
	for _, r := range page.Removed {
		out.RemovedIDs = append(out.RemovedIDs, r.ID)
	}
	return out, nil
}

func toUpserts(txns []provider.Transaction) ([]transaction.Upsert, error) {
	out := make([]transaction.Upsert, 0, len(txns))
	for _, t := range txns {
		date, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return nil, fmt.Errorf("transaction %s has invalid date %q: %w", t.ID, t.Date, err)
		}
		out = append(out, transaction.Upsert{
			ID:           t.ID,
			AccountID:    t.AccountID,
			Amount:       t.Amount,
			Date:         date,
			Name:         t.Name,
			MerchantName: t.MerchantName,
			Category:     t.Category,
			Pending:      t.Pending,
		})
	}
	return out, nil
}

func parseDatePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil
	}
	return &t
}
