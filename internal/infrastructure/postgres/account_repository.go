package postgres

import (
	"context"
	"fmt"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/infrastructure/provider"
)

type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, connection_id, member_id, name, official_name, mask, type, subtype,
	current_balance, available_balance, apr, statement_balance, payment_due_date,
	status, created_at, updated_at`

// UpsertFromProvider stores the accounts the aggregator reported for a
// freshly linked or re-synced connection. Existing rows are refreshed and
// reactivated.
func (r *AccountRepository) UpsertFromProvider(ctx context.Context, connectionID, memberID string, accounts []provider.Account) error {
	query := `
		INSERT INTO accounts (id, connection_id, member_id, name, official_name, mask, type, subtype,
			current_balance, available_balance, apr, statement_balance, payment_due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			member_id = EXCLUDED.member_id,
			name = EXCLUDED.name,
			official_name = EXCLUDED.official_name,
			mask = EXCLUDED.mask,
			type = EXCLUDED.type,
			subtype = EXCLUDED.subtype,
			current_balance = EXCLUDED.current_balance,
			available_balance = EXCLUDED.available_balance,
			apr = EXCLUDED.apr,
			statement_balance = EXCLUDED.statement_balance,
			payment_due_date = EXCLUDED.payment_due_date,
			status = 'active',
			updated_at = CURRENT_TIMESTAMP`

	for _, a := range accounts {
		var apr, statement *float64
		var dueDate *time.Time
		if a.Liability != nil {
			apr = a.Liability.APR
			statement = a.Liability.StatementBalance
			dueDate = parseProviderDate(a.Liability.NextPaymentDueDate)
		}

		_, err := r.db.ExecContext(ctx, query,
			a.ID, connectionID, memberID, a.Name, a.OfficialName, a.Mask, a.Type, a.Subtype,
			a.Balances.Current, a.Balances.Available, apr, statement, dueDate,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
		}
	}
	return nil
}

// UpdateBalances refreshes balance fields for active accounts on the
// connection. Replaced accounts keep their last known values.
func (r *AccountRepository) UpdateBalances(ctx context.Context, connectionID string, updates []account.BalanceUpdate) (int, error) {
	query := `
		UPDATE accounts SET
			name = COALESCE(NULLIF($1, ''), name),
			official_name = COALESCE($2, official_name),
			current_balance = $3,
			available_balance = $4,
			apr = COALESCE($5, apr),
			statement_balance = COALESCE($6, statement_balance),
			payment_due_date = COALESCE($7, payment_due_date),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $8 AND connection_id = $9 AND status = 'active'`

	updated := 0
	for _, u := range updates {
		result, err := r.db.ExecContext(ctx, query,
			u.Name, u.OfficialName, u.Current, u.Available, u.APR, u.StatementBalance, u.PaymentDueDate,
			u.AccountID, connectionID,
		)
		if err != nil {
			return updated, fmt.Errorf("failed to update balances for account %s: %w", u.AccountID, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			updated += int(n)
		}
	}
	return updated, nil
}

func (r *AccountRepository) ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE connection_id = $1 ORDER BY name", accountColumns)

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		var a account.Account
		err := rows.Scan(
			&a.ID, &a.ConnectionID, &a.MemberID, &a.Name, &a.OfficialName, &a.Mask, &a.Type, &a.Subtype,
			&a.CurrentBalance, &a.AvailableBalance, &a.APR, &a.StatementBalance, &a.PaymentDueDate,
			&a.Status, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

func parseProviderDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil
	}
	return &t
}
