package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
)

// RecoveryRepo implements RecoveryRepository using PostgreSQL.
type RecoveryRepo struct{ db *DB }

// NewRecoveryRepo constructs a recovery token repository.
func NewRecoveryRepo(db *DB) *RecoveryRepo { return &RecoveryRepo{db: db} }

// Save creates or replaces the owner's token.
func (r *RecoveryRepo) Save(ctx context.Context, t *model.RecoveryToken) error {
	const q = `
INSERT INTO recovery_tokens (owner_id, token_hash, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id)
DO UPDATE SET token_hash=EXCLUDED.token_hash, expires_at=EXCLUDED.expires_at`
	_, err := r.db.Pool.Exec(ctx, q, t.OwnerID, t.TokenHash, t.ExpiresAt)
	return err
}

// Consume deletes the owner's token if tokenHash matches, in one statement,
// so concurrent redemptions of the same token see exactly one row.
func (r *RecoveryRepo) Consume(ctx context.Context, ownerID, tokenHash string, now time.Time) error {
	const q = `DELETE FROM recovery_tokens WHERE owner_id=$1 AND token_hash=$2 RETURNING expires_at`
	var exp time.Time
	err := r.db.Pool.QueryRow(ctx, q, ownerID, tokenHash).Scan(&exp)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errs.ErrInvalidToken
	case err != nil:
		return err
	case !now.Before(exp):
		return errs.ErrInvalidToken
	}
	return nil
}

// Delete removes the owner's token.
func (r *RecoveryRepo) Delete(ctx context.Context, ownerID string) error {
	const q = `DELETE FROM recovery_tokens WHERE owner_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, ownerID)
	return err
}
