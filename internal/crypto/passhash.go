// Package crypto implements server-side passphrase hashing and secret digests.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	algorithmID = "argon2id"
	saltLen     = 16
	keyLen      = 32
)

// Params are the Argon2id cost parameters used for new hashes.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32 // iterations
	Parallelism uint8
}

// DefaultParams are tuned for server-side hashing.
var DefaultParams = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1}

var errMalformedHash = errors.New("malformed passphrase hash")

// Hasher hashes and verifies passphrases. It holds no mutable hashing state,
// so concurrent calls are independent; sem only bounds how many run at once.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

// NewHasher constructs a Hasher. maxConcurrent <= 0 means unbounded.
func NewHasher(p Params, maxConcurrent int) (*Hasher, error) {
	if p.Memory < 8*1024 || p.Time < 1 || p.Parallelism < 1 {
		return nil, fmt.Errorf("argon2 params too weak: m=%d t=%d p=%d", p.Memory, p.Time, p.Parallelism)
	}
	h := &Hasher{params: p}
	if maxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return h, nil
}

// Hash returns an algorithm-tagged PHC string with the salt embedded.
func (h *Hasher) Hash(ctx context.Context, passphrase string) (string, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(passphrase), salt, h.params.Time, h.params.Memory, h.params.Parallelism, keyLen)
	h.release()

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks passphrase against an encoded hash using the cost recorded in it.
func (h *Hasher) Verify(ctx context.Context, passphrase, encoded string) (bool, error) {
	ph, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(passphrase), ph.salt, ph.params.Time, ph.params.Memory, ph.params.Parallelism, uint32(len(ph.key)))
	h.release()
	return subtle.ConstantTimeCompare(got, ph.key) == 1, nil
}

func (h *Hasher) acquire(ctx context.Context) error {
	if h.sem == nil {
		return nil
	}
	return h.sem.Acquire(ctx, 1)
}

func (h *Hasher) release() {
	if h.sem != nil {
		h.sem.Release(1)
	}
}

type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported version %q", errMalformedHash, parts[2])
	}
	var p Params
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errMalformedHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errMalformedHash
		}
		switch k {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errMalformedHash
			}
			p.Parallelism = uint8(n)
		default:
			return nil, errMalformedHash
		}
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errMalformedHash
	}
	return &phc{params: p, salt: salt, key: key}, nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandToken returns n random bytes encoded as lowercase hex.
func RandToken(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 of an already-random secret.
// It must never be used for passphrases.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// EqualHashes compares two hex digests in constant time.
func EqualHashes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Redact returns a log-safe prefix of a secret.
func Redact(secret string) string {
	const keep = 8
	if len(secret) <= keep {
		return strings.Repeat("*", len(secret))
	}
	return secret[:keep] + "…"
}
