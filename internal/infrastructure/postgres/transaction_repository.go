package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"bankfeed/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, connection_id, account_id, amount, date, name,
	merchant_name, category, pending, created_at, updated_at`

const upsertTransactionQuery = `
	INSERT INTO transactions (id, connection_id, account_id, amount, date, name, merchant_name, category, pending)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		amount = EXCLUDED.amount,
		date = EXCLUDED.date,
		name = EXCLUDED.name,
		merchant_name = EXCLUDED.merchant_name,
		category = EXCLUDED.category,
		pending = EXCLUDED.pending,
		updated_at = CURRENT_TIMESTAMP`

// ApplyPage writes one delta page and advances the connection's cursor in
// a single transaction. If anything fails the cursor stays put, so the
// page is re-fetched and re-applied on the next run. Upserting by provider
// id makes that re-apply safe.
func (r *TransactionRepository) ApplyPage(ctx context.Context, connectionID string, page transaction.Page) (transaction.Counts, error) {
	var counts transaction.Counts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin page apply: %w", err)
	}
	defer tx.Rollback()

	for _, t := range page.Added {
		if _, err := tx.ExecContext(ctx, upsertTransactionQuery,
			t.ID, connectionID, t.AccountID, t.Amount, t.Date, t.Name, t.MerchantName, t.Category, t.Pending,
		); err != nil {
			return counts, fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}
	for _, t := range page.Modified {
		if _, err := tx.ExecContext(ctx, upsertTransactionQuery,
			t.ID, connectionID, t.AccountID, t.Amount, t.Date, t.Name, t.MerchantName, t.Category, t.Pending,
		); err != nil {
			return counts, fmt.Errorf("failed to modify transaction %s: %w", t.ID, err)
		}
	}

	if len(page.RemovedIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM transactions WHERE connection_id = $1 AND id = ANY($2)",
			connectionID, pq.Array(page.RemovedIDs),
		); err != nil {
			return counts, fmt.Errorf("failed to remove transactions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE connections SET cursor = $1, last_synced_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		page.NextCursor, connectionID,
	); err != nil {
		return counts, fmt.Errorf("failed to advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit page: %w", err)
	}

	counts.Added = len(page.Added)
	counts.Modified = len(page.Modified)
	counts.Removed = len(page.RemovedIDs)
	return counts, nil
}

// Purge deletes every transaction for the connection and clears its cursor
// atomically, so the next sync replays full history.
func (r *TransactionRepository) Purge(ctx context.Context, connectionID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE connection_id = $1", connectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted transactions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE connections SET cursor = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = $1", connectionID,
	); err != nil {
		return 0, fmt.Errorf("failed to clear cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return deleted, nil
}

func (r *TransactionRepository) CountByConnection(ctx context.Context, connectionID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE connection_id = $1", connectionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *TransactionRepository) ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE connection_id = $1
		ORDER BY date DESC, id
		LIMIT $2 OFFSET $3`, transactionColumns)

	rows, err := r.db.QueryContext(ctx, query, connectionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		var t transaction.Transaction
		err := rows.Scan(
			&t.ID, &t.ConnectionID, &t.AccountID, &t.Amount, &t.Date, &t.Name,
			&t.MerchantName, &t.Category, &t.Pending, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, &t)
	}
	return txns, rows.Err()
}
