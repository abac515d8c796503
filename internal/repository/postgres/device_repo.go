package postgres

import (
	"context"
	"time"

	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
)

// DeviceRepo implements DeviceRepository using PostgreSQL.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device credential repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

const deviceColumns = `key_hash, owner_id, device_id, device_type, device_name, fingerprint, issued_at, last_used, revoked, revoked_at`

func scanDevice(row interface{ Scan(...any) error }) (*model.Device, error) {
	var d model.Device
	err := row.Scan(&d.KeyHash, &d.OwnerID, &d.DeviceID,
		&d.Device.Type, &d.Device.Name, &d.Device.Fingerprint,
		&d.IssuedAt, &d.LastUsed, &d.Revoked, &d.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a newly minted credential.
func (r *DeviceRepo) Create(ctx context.Context, d *model.Device) error {
	const q = `
INSERT INTO devices (key_hash, owner_id, device_id, device_type, device_name, fingerprint, issued_at, last_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q, d.KeyHash, d.OwnerID, d.DeviceID,
		d.Device.Type, d.Device.Name, d.Device.Fingerprint, d.IssuedAt, d.LastUsed)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByKeyHash selects a credential by the hash of its secret.
func (r *DeviceRepo) GetByKeyHash(ctx context.Context, keyHash string) (*model.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE key_hash=$1`
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, q, keyHash))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// Touch bumps last_used on a non-revoked credential.
func (r *DeviceRepo) Touch(ctx context.Context, keyHash string, at time.Time) error {
	const q = `UPDATE devices SET last_used=$2 WHERE key_hash=$1 AND NOT revoked`
	tag, err := r.db.Pool.Exec(ctx, q, keyHash, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListActive returns the owner's non-revoked credentials, newest first.
func (r *DeviceRepo) ListActive(ctx context.Context, ownerID string) ([]model.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE owner_id=$1 AND NOT revoked ORDER BY issued_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Revoke sets revoked/revoked_at once; COALESCE keeps the first revocation time.
func (r *DeviceRepo) Revoke(ctx context.Context, ownerID, deviceID string, at time.Time) error {
	const q = `
UPDATE devices SET revoked=true, revoked_at=COALESCE(revoked_at, $3)
WHERE owner_id=$1 AND device_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, ownerID, deviceID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
