// Package service contains the trust-gate application services: the
// Knock/Exchange handshake, device credentials, and behavioral recovery.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/authctx"
	"github.com/and161185/memgate/internal/challenge"
	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/limiter"
	"github.com/and161185/memgate/internal/model"
	"github.com/and161185/memgate/internal/repository"
)

// MinPassphraseLength applies to registration and resets.
const MinPassphraseLength = 8

// APIKeyPrefix marks issued device credentials.
const APIKeyPrefix = "mk_"

var ownerIDRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// deviceNamespace scopes derived device ids.
var deviceNamespace = uuid.NewV5(uuid.NamespaceURL, "memgate/device")

// PassphraseHasher is the slow hash used for passphrases.
type PassphraseHasher interface {
	Hash(ctx context.Context, passphrase string) (string, error)
	Verify(ctx context.Context, passphrase, encoded string) (bool, error)
}

// ExchangeRequest is the body of an Exchange call.
type ExchangeRequest struct {
	ChallengeID string
	Passphrase  string
	OwnerID     string                  // default owner when empty
	Device      *model.DeviceDescriptor // optional rename; fingerprint is ignored
}

// RegisterRequest is the body of a Register call.
type RegisterRequest struct {
	OwnerID     string
	Passphrase  string
	Email       string
	DisplayName string
}

// AuthOptions configures AuthService.
type AuthOptions struct {
	DefaultOwner string
	// VolatileRegistration permits Register against the memory store.
	VolatileRegistration bool
}

// AuthService orchestrates the handshake and the credential lifecycle.
type AuthService struct {
	repos      repository.Set
	challenges *challenge.Store
	lockout    limiter.Lockout
	hasher     PassphraseHasher
	opts       AuthOptions
	log        *zap.Logger
	now        func() time.Time

	// dummyHash is verified against for unknown owners so they cost the same.
	dummyHash string
}

// NewAuthService wires the service over one repository set.
func NewAuthService(repos repository.Set, challenges *challenge.Store, lockout limiter.Lockout, hasher PassphraseHasher, opts AuthOptions, log *zap.Logger) *AuthService {
	s := &AuthService{
		repos:      repos,
		challenges: challenges,
		lockout:    lockout,
		hasher:     hasher,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
	h, err := hasher.Hash(context.Background(), "memgate-dummy-passphrase")
	if err != nil {
		log.Error("dummy hash failed; unknown-owner timing will differ", zap.Error(err))
	}
	s.dummyHash = h
	return s
}

// Store names the backend serving this service.
func (s *AuthService) Store() string { return s.repos.Source }

// Knock issues a challenge for the declared device.
func (s *AuthService) Knock(_ context.Context, d model.DeviceDescriptor) (model.Challenge, error) {
	c, err := s.challenges.Issue(d)
	if err != nil {
		return model.Challenge{}, err
	}
	s.log.Debug("challenge issued",
		zap.String("challenge", crypto.Redact(c.ID)),
		zap.String("device_type", d.Type))
	return c, nil
}

// ChallengeTTL is the lifetime of issued challenges.
func (s *AuthService) ChallengeTTL() time.Duration { return s.challenges.TTL() }

// Exchange redeems a challenge with the owner's passphrase for a new device
// credential. The plaintext key is returned exactly once.
func (s *AuthService) Exchange(ctx context.Context, req ExchangeRequest) (model.IssuedCredential, error) {
	if req.ChallengeID == "" || req.Passphrase == "" {
		return model.IssuedCredential{}, errs.Validationf("challenge and passphrase are required")
	}
	ch, err := s.challenges.Get(req.ChallengeID)
	if err != nil {
		return model.IssuedCredential{}, err
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = s.opts.DefaultOwner
	}

	allowed, retry, err := s.lockout.Allow(ctx, ownerID)
	if err != nil {
		return model.IssuedCredential{}, fmt.Errorf("lockout check: %w", err)
	}
	if !allowed {
		return model.IssuedCredential{}, &errs.LockedError{RetryAfter: retry}
	}

	owner, err := s.repos.Owners.Get(ctx, ownerID)
	if errors.Is(err, errs.ErrNotFound) {
		// Unknown owners pay for one verify and count down like real ones.
		_, _ = s.hasher.Verify(ctx, req.Passphrase, s.dummyHash)
		return model.IssuedCredential{}, s.failure(ctx, ownerID)
	}
	if err != nil {
		return model.IssuedCredential{}, err
	}

	ok, err := s.hasher.Verify(ctx, req.Passphrase, owner.PassphraseHash)
	if err != nil {
		return model.IssuedCredential{}, err
	}
	if !ok {
		return model.IssuedCredential{}, s.failure(ctx, ownerID)
	}

	if err := s.challenges.MarkUsed(ch.ID); err != nil {
		return model.IssuedCredential{}, err
	}
	if err := s.lockout.Success(ctx, ownerID); err != nil {
		s.log.Warn("lockout reset failed", zap.String("owner", ownerID), zap.Error(err))
	}

	desc := ch.Device
	if req.Device != nil {
		if req.Device.Type != "" {
			desc.Type = req.Device.Type
		}
		if req.Device.Name != "" {
			desc.Name = req.Device.Name
		}
	}
	return s.mint(ctx, ownerID, desc)
}

func (s *AuthService) mint(ctx context.Context, ownerID string, d model.DeviceDescriptor) (model.IssuedCredential, error) {
	secret, err := crypto.RandToken(32)
	if err != nil {
		return model.IssuedCredential{}, err
	}
	key := APIKeyPrefix + secret
	now := s.now().UTC()
	deviceID := uuid.NewV5(deviceNamespace, d.Type+"|"+d.Fingerprint+"|"+now.Format(time.RFC3339Nano)).String()

	dev := &model.Device{
		KeyHash:  crypto.HashSecret(key),
		OwnerID:  ownerID,
		DeviceID: deviceID,
		Device:   d,
		IssuedAt: now,
		LastUsed: now,
	}
	if err := s.repos.Devices.Create(ctx, dev); err != nil {
		return model.IssuedCredential{}, fmt.Errorf("store credential: %w", err)
	}
	s.log.Info("device credential issued",
		zap.String("owner", ownerID),
		zap.String("device_id", deviceID),
		zap.String("key", crypto.Redact(key)))
	return model.IssuedCredential{APIKey: key, DeviceID: deviceID, OwnerID: ownerID, IssuedAt: now}, nil
}

// failure records a rejected passphrase and builds the error the caller sees.
func (s *AuthService) failure(ctx context.Context, ownerID string) error {
	remaining, lockedFor, err := s.lockout.Failure(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if lockedFor > 0 {
		s.log.Warn("owner locked after failed exchanges",
			zap.String("owner", ownerID), zap.Duration("for", lockedFor))
	}
	return &errs.PassphraseError{AttemptsRemaining: remaining}
}

// Register creates an owner. Against the memory store it fails with
// ErrStoreUnavailable unless VolatileRegistration is set.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.Owner, error) {
	if !ownerIDRe.MatchString(req.OwnerID) {
		return nil, errs.Validationf("user_id must match %s", ownerIDRe.String())
	}
	if utf8.RuneCountInString(req.Passphrase) < MinPassphraseLength {
		return nil, errs.Validationf("passphrase must be at least %d characters", MinPassphraseLength)
	}
	if s.repos.Source != repository.SourcePostgres && !s.opts.VolatileRegistration {
		return nil, errs.ErrStoreUnavailable
	}

	hash, err := s.hasher.Hash(ctx, req.Passphrase)
	if err != nil {
		return nil, err
	}
	o := &model.Owner{
		ID:             req.OwnerID,
		PassphraseHash: hash,
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repos.Owners.Create(ctx, o); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	s.log.Info("owner registered", zap.String("owner", o.ID))
	return o, nil
}

// Bootstrap creates the owner with passphrase if it does not exist yet.
func (s *AuthService) Bootstrap(ctx context.Context, ownerID, passphrase string) error {
	if ownerID == "" || passphrase == "" {
		return nil
	}
	if _, err := s.repos.Owners.Get(ctx, ownerID); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	hash, err := s.hasher.Hash(ctx, passphrase)
	if err != nil {
		return err
	}
	err = s.repos.Owners.Create(ctx, &model.Owner{ID: ownerID, PassphraseHash: hash, CreatedAt: s.now().UTC()})
	if err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return err
	}
	s.log.Info("default owner bootstrapped", zap.String("owner", ownerID))
	return nil
}

// Authenticate resolves a presented key to its principal and records use.
func (s *AuthService) Authenticate(ctx context.Context, key string) (authctx.Auth, error) {
	if key == "" {
		return authctx.Auth{}, errs.ErrUnauthorized
	}
	hash := crypto.HashSecret(key)
	dev, err := s.repos.Devices.GetByKeyHash(ctx, hash)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !dev.Active()) {
		return authctx.Auth{}, errs.ErrInvalidAPIKey
	}
	if err != nil {
		return authctx.Auth{}, err
	}
	if err := s.repos.Devices.Touch(ctx, hash, s.now().UTC()); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("last_used update failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
	}
	return authctx.Auth{OwnerID: dev.OwnerID, DeviceID: dev.DeviceID, KeyPrefix: crypto.Redact(key)}, nil
}

// DeviceID resolves key to its device without recording use. It reports
// false for unknown, revoked or unreadable credentials.
func (s *AuthService) DeviceID(ctx context.Context, key string) (string, bool) {
	dev, err := s.repos.Devices.GetByKeyHash(ctx, crypto.HashSecret(key))
	if err != nil || !dev.Active() {
		return "", false
	}
	return dev.DeviceID, true
}

// ListDevices returns the owner's active credentials.
func (s *AuthService) ListDevices(ctx context.Context, ownerID string) ([]model.Device, error) {
	return s.repos.Devices.ListActive(ctx, ownerID)
}

// Revoke permanently disables one of the owner's credentials.
func (s *AuthService) Revoke(ctx context.Context, ownerID, deviceID string) error {
	if deviceID == "" {
		return errs.Validationf("device_id is required")
	}
	if err := s.repos.Devices.Revoke(ctx, ownerID, deviceID, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("device revoked", zap.String("owner", ownerID), zap.String("device_id", deviceID))
	return nil
}
