package postgres

import (
	"context"

	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
)

// OwnerRepo implements OwnerRepository using PostgreSQL.
type OwnerRepo struct{ db *DB }

// NewOwnerRepo constructs an owner repository.
func NewOwnerRepo(db *DB) *OwnerRepo { return &OwnerRepo{db: db} }

// Create inserts a new owner row.
func (r *OwnerRepo) Create(ctx context.Context, o *model.Owner) error {
	const q = `
INSERT INTO owners (id, passphrase_hash, email, display_name, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, o.ID, o.PassphraseHash, o.Email, o.DisplayName, o.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects an owner by id.
func (r *OwnerRepo) Get(ctx context.Context, id string) (*model.Owner, error) {
	const q = `
SELECT id, passphrase_hash, email, display_name, created_at
FROM owners WHERE id=$1`
	var o model.Owner
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&o.ID, &o.PassphraseHash, &o.Email, &o.DisplayName, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// UpdatePassphrase replaces the stored passphrase hash.
func (r *OwnerRepo) UpdatePassphrase(ctx context.Context, id, hash string) error {
	const q = `UPDATE owners SET passphrase_hash=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
