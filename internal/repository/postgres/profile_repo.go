package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/memgate/internal/model"
)

// ProfileRepo implements ProfileRepository using PostgreSQL.
// Feature vectors are stored as JSONB so the feature set can grow without a migration.
type ProfileRepo struct{ db *DB }

// NewProfileRepo constructs a behavioral profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

// Put creates or overwrites the owner's profile.
func (r *ProfileRepo) Put(ctx context.Context, p *model.Profile) error {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	const q = `
INSERT INTO behavioral_profiles (owner_id, features, sample_count, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id)
DO UPDATE SET features=EXCLUDED.features, sample_count=EXCLUDED.sample_count, updated_at=EXCLUDED.updated_at`
	_, err = r.db.Pool.Exec(ctx, q, p.OwnerID, features, p.SampleCount, p.UpdatedAt)
	return err
}

// List returns every stored profile.
func (r *ProfileRepo) List(ctx context.Context) ([]model.Profile, error) {
	const q = `SELECT owner_id, features, sample_count, updated_at FROM behavioral_profiles ORDER BY owner_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Profile, 0)
	for rows.Next() {
		var (
			p   model.Profile
			raw []byte
			at  time.Time
		)
		if err := rows.Scan(&p.OwnerID, &raw, &p.SampleCount, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &p.Features); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", p.OwnerID, err)
		}
		p.UpdatedAt = at
		out = append(out, p)
	}
	return out, rows.Err()
}
