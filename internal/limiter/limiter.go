// Package limiter tracks consecutive passphrase failures per owner and the
// temporary lockout they trigger.
package limiter

import (
	"context"
	"time"
)

// Lockout controls exchange attempts and temporary lockouts.
type Lockout interface {
	// Allow reports whether an attempt is currently permitted and, if not,
	// how long until the lock lifts.
	Allow(ctx context.Context, ownerID string) (bool, time.Duration, error)
	// Failure records a failed attempt. It returns the attempts left before
	// a lock and, when this failure locked the owner, the lock duration.
	Failure(ctx context.Context, ownerID string) (remaining int, lockedFor time.Duration, err error)
	// Success clears the failure counter and any lock.
	Success(ctx context.Context, ownerID string) error
}

// Policy is the lockout threshold and flat lock duration.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy is three failures then fifteen minutes.
var DefaultPolicy = Policy{Threshold: 3, Duration: 15 * time.Minute}

func (p Policy) remaining(fails int) int {
	if r := p.Threshold - fails; r > 0 {
		return r
	}
	return 0
}
