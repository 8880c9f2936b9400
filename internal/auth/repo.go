package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindToken(ctx context.Context, id int64) (*ServiceToken, error)
	TouchToken(ctx context.Context, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const findTokenQuery = `
SELECT t.id, t.subject_id, u.tenant_id, t.name, t.secret_hash, t.is_active, t.expires_at, t.created_at
FROM service_tokens t
JOIN users u ON u.id = t.subject_id
WHERE t.id = $1`

// FindToken fetches a service token by its public identifier.
func (r *PGRepository) FindToken(ctx context.Context, id int64) (*ServiceToken, error) {
	var token ServiceToken
	err := r.pool.QueryRow(ctx, findTokenQuery, id).Scan(
		&token.ID, &token.SubjectID, &token.TenantID, &token.Name,
		&token.SecretHash, &token.IsActive, &token.ExpiresAt, &token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: find token %d: %w", id, err)
	}
	return &token, nil
}

// TouchToken stamps the token's last use for credential hygiene reporting.
func (r *PGRepository) TouchToken(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE service_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: touch token %d: %w", id, err)
	}
	return nil
}
