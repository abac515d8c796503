package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
)

var deviceCols = []string{"key_hash", "owner_id", "device_id", "device_type", "device_name", "fingerprint", "issued_at", "last_used", "revoked", "revoked_at"}

func TestDeviceRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	now := time.Now().UTC()
	d := &model.Device{
		KeyHash:  "h1",
		OwnerID:  "alice",
		DeviceID: "dev-1",
		Device:   model.DeviceDescriptor{Type: "cli", Name: "laptop", Fingerprint: "fp"},
		IssuedAt: now,
		LastUsed: now,
	}

	mock.ExpectExec(`INSERT INTO devices \(key_hash, owner_id, device_id, device_type, device_name, fingerprint, issued_at, last_used\)`).
		WithArgs("h1", "alice", "dev-1", "cli", "laptop", "fp", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepo_GetByKeyHash(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	now := time.Now().UTC()
	revokedAt := now.Add(time.Minute)

	mock.ExpectQuery(`SELECT key_hash, owner_id, device_id, .* FROM devices WHERE key_hash=\$1`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows(deviceCols).
			AddRow("h1", "alice", "dev-1", "cli", "laptop", "fp", now, now, true, &revokedAt))
	d, err := r.GetByKeyHash(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, "dev-1", d.DeviceID)
	require.Equal(t, "cli", d.Device.Type)
	require.True(t, d.Revoked)
	require.False(t, d.Active())
	require.NotNil(t, d.RevokedAt)

	mock.ExpectQuery(`FROM devices WHERE key_hash=\$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByKeyHash(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeviceRepo_TouchOnlyActive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE devices SET last_used=\$2 WHERE key_hash=\$1 AND NOT revoked`).
		WithArgs("h1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Touch(context.Background(), "h1", now))

	mock.ExpectExec(`UPDATE devices SET last_used`).
		WithArgs("h2", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Touch(context.Background(), "h2", now), errs.ErrNotFound)
}

func TestDeviceRepo_ListActive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM devices WHERE owner_id=\$1 AND NOT revoked ORDER BY issued_at DESC`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(deviceCols).
			AddRow("h2", "alice", "dev-2", "web", "browser", "fp2", now, now, false, (*time.Time)(nil)).
			AddRow("h1", "alice", "dev-1", "cli", "laptop", "fp1", now.Add(-time.Hour), now, false, (*time.Time)(nil)))
	list, err := r.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "dev-2", list[0].DeviceID)
	require.Nil(t, list[1].RevokedAt)

	mock.ExpectQuery(`FROM devices WHERE owner_id=\$1`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows(deviceCols))
	list, err = r.ListActive(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestDeviceRepo_Revoke(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE devices SET revoked=true, revoked_at=COALESCE\(revoked_at, \$3\) WHERE owner_id=\$1 AND device_id=\$2`).
		WithArgs("alice", "dev-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Revoke(context.Background(), "alice", "dev-1", now))

	mock.ExpectExec(`UPDATE devices SET revoked=true`).
		WithArgs("mallory", "dev-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Revoke(context.Background(), "mallory", "dev-1", now), errs.ErrNotFound)
}
