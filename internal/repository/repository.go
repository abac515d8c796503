// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/memgate/internal/model"
)

// OwnerRepository provides access to owner accounts.
type OwnerRepository interface {
	// Create inserts a new owner; ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, o *model.Owner) error
	// Get loads an owner by id.
	Get(ctx context.Context, id string) (*model.Owner, error)
	// UpdatePassphrase replaces the stored passphrase hash.
	UpdatePassphrase(ctx context.Context, id, hash string) error
}

// DeviceRepository maps fast hashes of issued keys to device records.
type DeviceRepository interface {
	// Create stores a freshly minted credential.
	Create(ctx context.Context, d *model.Device) error
	// GetByKeyHash loads the record for a presented key hash, revoked or not.
	GetByKeyHash(ctx context.Context, keyHash string) (*model.Device, error)
	// Touch updates last_used for an active credential.
	Touch(ctx context.Context, keyHash string, at time.Time) error
	// ListActive returns the owner's non-revoked credentials, newest first.
	ListActive(ctx context.Context, ownerID string) ([]model.Device, error)
	// Revoke marks the owner's device revoked. Revoking twice is not an error;
	// a device id that the owner does not hold yields ErrNotFound.
	Revoke(ctx context.Context, ownerID, deviceID string, at time.Time) error
}

// ProfileRepository stores behavioral baselines.
type ProfileRepository interface {
	// Put creates or overwrites the owner's profile.
	Put(ctx context.Context, p *model.Profile) error
	// List returns every stored profile.
	List(ctx context.Context) ([]model.Profile, error)
}

// RecoveryRepository stores at most one recovery token per owner.
type RecoveryRepository interface {
	// Save creates or replaces the owner's token.
	Save(ctx context.Context, t *model.RecoveryToken) error
	// Consume atomically removes the owner's token when its hash matches and
	// reports ErrInvalidToken when it is missing, mismatched or expired. A
	// matching expired token is removed as well. At most one caller can
	// consume a given token.
	Consume(ctx context.Context, ownerID, tokenHash string, now time.Time) error
	// Delete removes the owner's token; missing tokens are not an error.
	Delete(ctx context.Context, ownerID string) error
}

// Set bundles one backend's repositories. It is chosen once at startup and
// injected; Source names the backend so responses can report which one served them.
type Set struct {
	Owners   OwnerRepository
	Devices  DeviceRepository
	Profiles ProfileRepository
	Recovery RecoveryRepository
	Source   string
}

// Backend names reported in Set.Source.
const (
	SourcePostgres = "postgres"
	SourceMemory   = "memory"
)
