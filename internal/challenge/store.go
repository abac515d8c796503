// Package challenge holds the short-lived single-use nonces issued by Knock
// and redeemed by Exchange.
package challenge

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/model"
)

// TTL is how long an issued challenge may be redeemed.
const TTL = 5 * time.Minute

// idBytes is the amount of randomness in a challenge id.
const idBytes = 32

// Store is an in-memory challenge table. Challenges are process-local; a
// restart invalidates outstanding ones, which only costs the client a new Knock.
type Store struct {
	mu    sync.Mutex
	items map[string]model.Challenge
	ttl   time.Duration
	now   func() time.Time
}

// NewStore constructs an empty store with the given TTL (TTL when zero).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = TTL
	}
	return &Store{items: make(map[string]model.Challenge), ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued challenges.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates a challenge for the device and purges expired ones.
// A missing fingerprint is derived from the device name, or type.
func (s *Store) Issue(d model.DeviceDescriptor) (model.Challenge, error) {
	if d.Type == "" {
		return model.Challenge{}, errs.Validationf("device.type is required")
	}
	b, err := crypto.RandBytes(idBytes)
	if err != nil {
		return model.Challenge{}, err
	}
	if d.Fingerprint == "" {
		d.Fingerprint = Fingerprint(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	c := model.Challenge{ID: hex.EncodeToString(b), Device: d, CreatedAt: now}
	s.items[c.ID] = c
	return c, nil
}

// Get returns the challenge if it is present, unused and unexpired.
// An expired challenge is dropped on lookup.
func (s *Store) Get(id string) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	switch {
	case !ok:
		return model.Challenge{}, errs.ErrInvalidChallenge
	case c.Used:
		return model.Challenge{}, errs.ErrChallengeReused
	case s.expired(c, s.now()):
		delete(s.items, id)
		return model.Challenge{}, errs.ErrChallengeExpired
	}
	return c, nil
}

// MarkUsed flips the used flag if and only if it was unset. Of several
// concurrent callers exactly one succeeds; the rest get ErrChallengeReused.
func (s *Store) MarkUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	switch {
	case !ok:
		return errs.ErrInvalidChallenge
	case c.Used:
		return errs.ErrChallengeReused
	case s.expired(c, s.now()):
		delete(s.items, id)
		return errs.ErrChallengeExpired
	}
	c.Used = true
	s.items[id] = c
	return nil
}

// Sweep removes expired challenges and returns how many were purged.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Len reports the number of stored challenges.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) sweepLocked(now time.Time) int {
	n := 0
	for id, c := range s.items {
		if s.expired(c, now) {
			delete(s.items, id)
			n++
		}
	}
	return n
}

func (s *Store) expired(c model.Challenge, now time.Time) bool {
	return now.Sub(c.CreatedAt) > s.ttl
}

// Fingerprint derives a stable fingerprint from the device name, falling back
// to its type: the first 16 hex chars of SHA-256.
func Fingerprint(d model.DeviceDescriptor) string {
	src := d.Name
	if src == "" {
		src = d.Type
	}
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])[:16]
}
