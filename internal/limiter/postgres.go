package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps lockout state on the owners row so a counter can never outlive
// its owner. Ids without a row are tracked in a process-local shadow so
// they lock exactly like real owners.
type PG struct {
	pool   pgxQuerier
	policy Policy
	now    func() time.Time
	shadow *Memory
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed lockout tracker. Any pgx pool or
// connection satisfies the querier.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{pool: q, policy: p, now: time.Now, shadow: NewMemory(p)}
}

// Sweep drops expired shadow locks.
func (l *PG) Sweep() int { return l.shadow.Sweep() }

// Allow reports whether the owner is currently unlocked.
func (l *PG) Allow(ctx context.Context, ownerID string) (bool, time.Duration, error) {
	const q = `SELECT locked_until FROM owners WHERE id=$1`
	var lockedUntil *time.Time
	err := l.pool.QueryRow(ctx, q, ownerID).Scan(&lockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return l.shadow.Allow(ctx, ownerID)
	case err != nil:
		return false, 0, err
	}
	now := l.now()
	if lockedUntil != nil && lockedUntil.After(now) {
		return false, lockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Failure increments the counter and locks at the threshold in one statement,
// so concurrent failures cannot push the count past the lock.
func (l *PG) Failure(ctx context.Context, ownerID string) (int, time.Duration, error) {
	now := l.now()
	const q = `
UPDATE owners SET
  fail_count = CASE
    WHEN locked_until > $4 THEN fail_count
    WHEN fail_count + 1 >= $2 THEN 0
    ELSE fail_count + 1 END,
  locked_until = CASE
    WHEN locked_until > $4 THEN locked_until
    WHEN fail_count + 1 >= $2 THEN $3
    ELSE locked_until END
WHERE id=$1
RETURNING fail_count, locked_until`
	var (
		fails       int
		lockedUntil *time.Time
	)
	err := l.pool.QueryRow(ctx, q, ownerID, l.policy.Threshold, now.Add(l.policy.Duration), now).
		Scan(&fails, &lockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return l.shadow.Failure(ctx, ownerID)
	case err != nil:
		return 0, 0, err
	}
	if lockedUntil != nil && lockedUntil.After(now) {
		return 0, lockedUntil.Sub(now), nil
	}
	return l.policy.remaining(fails), 0, nil
}

// Success resets the counter and lifts any lock.
func (l *PG) Success(ctx context.Context, ownerID string) error {
	const q = `UPDATE owners SET fail_count=0, locked_until=NULL WHERE id=$1`
	_, err := l.pool.Exec(ctx, q, ownerID)
	_ = l.shadow.Success(ctx, ownerID)
	return err
}
