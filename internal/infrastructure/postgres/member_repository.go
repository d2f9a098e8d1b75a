package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bankfeed/internal/domain/connection"
)

type MemberRepository struct {
	db *DB
}

func NewMemberRepository(db *DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = "id, user_id, name, is_primary, created_at, updated_at"

func (r *MemberRepository) GetByID(ctx context.Context, id string) (*connection.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE id = $1", memberColumns)

	var m connection.Member
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.UserID, &m.Name, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// FindOrCreatePrimary returns the user's primary member, creating it on
// first use. A partial unique index guarantees at most one primary per
// user; a concurrent create loses the race and re-reads.
func (r *MemberRepository) FindOrCreatePrimary(ctx context.Context, userID int64) (*connection.Member, error) {
	m, err := r.getPrimary(ctx, userID)
	if err != nil || m != nil {
		return m, err
	}

	query := fmt.Sprintf(`
		INSERT INTO members (id, user_id, name, is_primary)
		VALUES ($1, $2, 'Primary', TRUE)
		RETURNING %s`, memberColumns)

	var created connection.Member
	err = r.db.QueryRowContext(ctx, query, uuid.NewString(), userID).Scan(
		&created.ID, &created.UserID, &created.Name, &created.IsPrimary, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return r.getPrimary(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create primary member: %w", err)
	}
	return &created, nil
}

func (r *MemberRepository) getPrimary(ctx context.Context, userID int64) (*connection.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE user_id = $1 AND is_primary", memberColumns)

	var m connection.Member
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Name, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get primary member: %w", err)
	}
	return &m, nil
}
