// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., user id taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates a missing or unusable credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAPIKey indicates an unknown or revoked device credential.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrRateLimited indicates the client exceeded its request window.
	ErrRateLimited = errors.New("rate_limited")

	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation")

	// ErrStoreUnavailable indicates the durable store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Handshake and recovery protocol sentinels.
var (
	ErrInvalidChallenge  = errors.New("invalid_challenge")
	ErrChallengeReused   = errors.New("challenge_reused")
	ErrChallengeExpired  = errors.New("challenge_expired")
	ErrAccountLocked     = errors.New("account_locked")
	ErrInvalidPassphrase = errors.New("invalid_passphrase")

	ErrNoBehavioralData = errors.New("no_behavioral_data")
	ErrNotRecognized    = errors.New("not_recognized")
	ErrInvalidToken     = errors.New("invalid_recovery_token")
)

// Validationf wraps a formatted message with ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LockedError reports an account lock with the time left until it lifts.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// PassphraseError reports a rejected passphrase and how many attempts remain before lock.
type PassphraseError struct {
	AttemptsRemaining int
}

func (e *PassphraseError) Error() string {
	return fmt.Sprintf("invalid passphrase, %d attempts remaining", e.AttemptsRemaining)
}

func (e *PassphraseError) Unwrap() error { return ErrInvalidPassphrase }

// NotRecognizedError reports a behavioral sample that scored below threshold.
type NotRecognizedError struct {
	Confidence float64
}

func (e *NotRecognizedError) Error() string {
	return fmt.Sprintf("sample not recognized (confidence %.3f)", e.Confidence)
}

func (e *NotRecognizedError) Unwrap() error { return ErrNotRecognized }
