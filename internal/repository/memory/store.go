// Package memory contains the in-process fallback implementation of the
// repository interfaces, used when no durable store is configured or reachable.
// State lives for the lifetime of the process only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
	"github.com/and161185/memgate/internal/repository"
)

// Store holds every record kind behind a single lock. Values are copied in
// and out so callers never alias stored records.
type Store struct {
	mu       sync.RWMutex
	owners   map[string]model.Owner
	devices  map[string]model.Device // by key hash
	profiles map[string]model.Profile
	tokens   map[string]model.RecoveryToken
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		owners:   make(map[string]model.Owner),
		devices:  make(map[string]model.Device),
		profiles: make(map[string]model.Profile),
		tokens:   make(map[string]model.RecoveryToken),
	}
}

// Repositories returns the memory-backed repository set.
func (s *Store) Repositories() repository.Set {
	return repository.Set{
		Owners:   ownerRepo{s},
		Devices:  deviceRepo{s},
		Profiles: profileRepo{s},
		Recovery: recoveryRepo{s},
		Source:   repository.SourceMemory,
	}
}

type ownerRepo struct{ s *Store }

func (r ownerRepo) Create(_ context.Context, o *model.Owner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.owners[o.ID]; ok {
		return errs.ErrAlreadyExists
	}
	r.s.owners[o.ID] = *o
	return nil
}

func (r ownerRepo) Get(_ context.Context, id string) (*model.Owner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &o, nil
}

func (r ownerRepo) UpdatePassphrase(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return errs.ErrNotFound
	}
	o.PassphraseHash = hash
	r.s.owners[id] = o
	return nil
}

type deviceRepo struct{ s *Store }

func (r deviceRepo) Create(_ context.Context, d *model.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.devices[d.KeyHash]; ok {
		return errs.ErrAlreadyExists
	}
	r.s.devices[d.KeyHash] = *d
	return nil
}

func (r deviceRepo) GetByKeyHash(_ context.Context, keyHash string) (*model.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.devices[keyHash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

func (r deviceRepo) Touch(_ context.Context, keyHash string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.devices[keyHash]
	if !ok || d.Revoked {
		return errs.ErrNotFound
	}
	d.LastUsed = at
	r.s.devices[keyHash] = d
	return nil
}

func (r deviceRepo) ListActive(_ context.Context, ownerID string) ([]model.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Device, 0)
	for _, d := range r.s.devices {
		if d.OwnerID == ownerID && !d.Revoked {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r deviceRepo) Revoke(_ context.Context, ownerID, deviceID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	found := false
	for k, d := range r.s.devices {
		if d.OwnerID != ownerID || d.DeviceID != deviceID {
			continue
		}
		found = true
		if d.Revoked {
			continue
		}
		when := at
		d.Revoked = true
		d.RevokedAt = &when
		r.s.devices[k] = d
	}
	if !found {
		return errs.ErrNotFound
	}
	return nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) Put(_ context.Context, p *model.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.profiles[p.OwnerID] = *p
	return nil
}

func (r profileRepo) List(_ context.Context) ([]model.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Profile, 0, len(r.s.profiles))
	for _, p := range r.s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

type recoveryRepo struct{ s *Store }

func (r recoveryRepo) Save(_ context.Context, t *model.RecoveryToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tokens[t.OwnerID] = *t
	return nil
}

func (r recoveryRepo) Consume(_ context.Context, ownerID, tokenHash string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[ownerID]
	if !ok || !crypto.EqualHashes(t.TokenHash, tokenHash) {
		return errs.ErrInvalidToken
	}
	delete(r.s.tokens, ownerID)
	if t.Expired(now) {
		return errs.ErrInvalidToken
	}
	return nil
}

func (r recoveryRepo) Delete(_ context.Context, ownerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.tokens, ownerID)
	return nil
}
