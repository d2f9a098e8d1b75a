package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"bankfeed/internal/domain/connection"
)

type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, member_id, item_id, institution_id, institution_name,
	status, provider_error, credential_id, cursor, last_synced_at, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	query := fmt.Sprintf(`
		INSERT INTO connections (id, user_id, member_id, item_id, institution_id, institution_name, credential_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s`, connectionColumns)

	row := r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.MemberID, params.ItemID,
		params.InstitutionID, params.InstitutionName, params.CredentialID,
	)
	conn, err := scanConnection(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("item %s: %w", params.ItemID, connection.ErrDuplicateItem)
		}
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := fmt.Sprintf("SELECT %s FROM connections WHERE id = $1", connectionColumns)

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByItemID(ctx context.Context, itemID string) (*connection.Connection, error) {
	query := fmt.Sprintf("SELECT %s FROM connections WHERE item_id = $1", connectionColumns)

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by item: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) Update(ctx context.Context, id string, patch *connection.Patch) error {
	if patch.Empty() {
		return nil
	}

	fields := patch.Fields()
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE connections SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func (r *ConnectionRepository) FindByMemberMasks(ctx context.Context, memberID string, masks []string) ([]*connection.Connection, error) {
	if len(masks) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM connections c
		JOIN accounts a ON a.connection_id = c.id
		WHERE a.member_id = $1 AND a.mask = ANY($2)
		ORDER BY c.created_at DESC`,
		prefixColumns("c", connectionColumns))

	rows, err := r.db.QueryContext(ctx, query, memberID, pq.Array(masks))
	if err != nil {
		return nil, fmt.Errorf("failed to find connections by masks: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Absorb transfers the old connection's accounts and transactions to the
// new one and deletes the old shell, all in one transaction. Transferred
// accounts are flagged replaced so balance refreshes skip them.
func (r *ConnectionRepository) Absorb(ctx context.Context, oldID, newID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin absorb: %w", err)
	}
	defer tx.Rollback()

	queries := []struct {
		q    string
		args []any
	}{
		{"UPDATE accounts SET connection_id = $1, status = 'replaced', updated_at = CURRENT_TIMESTAMP WHERE connection_id = $2", []any{newID, oldID}},
		{"UPDATE transactions SET connection_id = $1, updated_at = CURRENT_TIMESTAMP WHERE connection_id = $2", []any{newID, oldID}},
		{"DELETE FROM connections WHERE id = $1", []any{oldID}},
	}
	for _, step := range queries {
		if _, err := tx.ExecContext(ctx, step.q, step.args...); err != nil {
			return fmt.Errorf("failed to absorb connection %s: %w", oldID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit absorb: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) MarkInactiveZombies(ctx context.Context, userID int64, institutionID string) (int64, error) {
	query := `
		UPDATE connections SET status = 'inactive', updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND institution_id = $2
		  AND status IN ('disconnected', 'error')
		  AND NOT EXISTS (SELECT 1 FROM accounts WHERE accounts.connection_id = connections.id)`

	result, err := r.db.ExecContext(ctx, query, userID, institutionID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark zombie connections: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*connection.Connection, error) {
	var c connection.Connection
	err := row.Scan(
		&c.ID, &c.UserID, &c.MemberID, &c.ItemID, &c.InstitutionID, &c.InstitutionName,
		&c.Status, &c.ProviderError, &c.CredentialID, &c.Cursor, &c.LastSyncedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
