package crypto

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// cheap params keep the suite fast; production cost comes from config.
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}

func newTestHasher(t *testing.T, maxConcurrent int) *Hasher {
	t.Helper()
	h, err := NewHasher(testParams, maxConcurrent)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestNewHasher_RejectsWeakParams(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher(Params{Memory: 1024, Time: 1, Parallelism: 1}, 0); err == nil {
		t.Fatalf("want error for memory below floor")
	}
	if _, err := NewHasher(Params{Memory: 8 * 1024, Time: 0, Parallelism: 1}, 0); err == nil {
		t.Fatalf("want error for zero time")
	}
}

func TestHash_IsTaggedAndSalted(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t, 0)
	ctx := context.Background()

	h1, err := h.Hash(ctx, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h1, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h1)
	}
	h2, err := h.Hash(ctx, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash(2): %v", err)
	}
	if h1 == h2 {
		t.Fatalf("same passphrase must hash differently (random salt)")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t, 0)
	ctx := context.Background()

	enc, err := h.Hash(ctx, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify(ctx, "correct horse battery staple", enc)
	if err != nil || !ok {
		t.Fatalf("Verify correct: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify(ctx, "wrong", enc)
	if err != nil || ok {
		t.Fatalf("Verify wrong: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify(ctx, "", enc)
	if err != nil || ok {
		t.Fatalf("Verify empty: ok=%v err=%v", ok, err)
	}
}

func TestVerify_UsesCostRecordedInHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	old := newTestHasher(t, 0)
	enc, err := old.Hash(ctx, "rotate-me-please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	stronger, err := NewHasher(Params{Memory: 16 * 1024, Time: 2, Parallelism: 2}, 0)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	ok, err := stronger.Verify(ctx, "rotate-me-please", enc)
	if err != nil || !ok {
		t.Fatalf("stronger hasher must verify old hash: ok=%v err=%v", ok, err)
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t, 0)

	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdA$!!!",
	} {
		if _, err := h.Verify(context.Background(), "pw", bad); err == nil {
			t.Fatalf("want error for %q", bad)
		}
	}
}

func TestHasher_ConcurrentCallsAreIndependent(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t, 2)
	ctx := context.Background()

	enc, err := h.Hash(ctx, "shared-passphrase")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	var wg sync.WaitGroup
	fails := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pw := "shared-passphrase"
			if i%2 == 1 {
				pw = "other"
			}
			ok, err := h.Verify(ctx, pw, enc)
			if err != nil || ok != (i%2 == 0) {
				fails <- pw
			}
		}(i)
	}
	wg.Wait()
	close(fails)
	for pw := range fails {
		t.Fatalf("unexpected verify result for %q", pw)
	}
}

func TestHasher_AcquireHonorsContext(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t, 1)

	// hold the only slot
	if err := h.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Hash(ctx, "blocked"); err == nil {
		t.Fatalf("want context error while semaphore is held")
	}
}

func TestHashSecret_AndRedact(t *testing.T) {
	t.Parallel()

	a := HashSecret("mk_abc")
	if len(a) != 64 || a != HashSecret("mk_abc") || a == HashSecret("mk_abd") {
		t.Fatalf("HashSecret not a stable sha256 hex: %s", a)
	}
	if !EqualHashes(a, HashSecret("mk_abc")) || EqualHashes(a, HashSecret("x")) {
		t.Fatalf("EqualHashes mismatch")
	}
	if got := Redact("mk_0123456789"); got != "mk_01234…" {
		t.Fatalf("Redact=%q", got)
	}
	if got := Redact("short"); got != "*****" {
		t.Fatalf("Redact short=%q", got)
	}

	tok, err := RandToken(16)
	if err != nil || len(tok) != 32 {
		t.Fatalf("RandToken: %q %v", tok, err)
	}
}
