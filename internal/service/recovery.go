package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/authctx"
	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/limiter"
	"github.com/and161185/memgate/internal/model"
	"github.com/and161185/memgate/internal/repository"
	"github.com/and161185/memgate/internal/stylometry"
)

// RecoveryTokenTTL is how long a recovery token stays redeemable.
const RecoveryTokenTTL = 10 * time.Minute

// VerifyResult is a successful behavioral match.
type VerifyResult struct {
	OwnerID    string
	Confidence float64
	Token      string // plaintext, shown once
	ExpiresAt  time.Time
}

// ResetRequest changes an owner's passphrase.
type ResetRequest struct {
	OwnerID       string
	NewPassphrase string
	RecoveryToken string
}

// RecoveryService implements stylometric recovery and passphrase reset.
type RecoveryService struct {
	repos     repository.Set
	lockout   limiter.Lockout
	hasher    PassphraseHasher
	threshold float64
	log       *zap.Logger
	now       func() time.Time
}

// NewRecoveryService wires the service. threshold <= 0 selects the default.
func NewRecoveryService(repos repository.Set, lockout limiter.Lockout, hasher PassphraseHasher, threshold float64, log *zap.Logger) *RecoveryService {
	if threshold <= 0 {
		threshold = stylometry.DefaultThreshold
	}
	return &RecoveryService{repos: repos, lockout: lockout, hasher: hasher, threshold: threshold, log: log, now: time.Now}
}

func checkSample(s string) error {
	if n := utf8.RuneCountInString(s); n < stylometry.MinSampleLength {
		return errs.Validationf("sample must be at least %d characters, got %d", stylometry.MinSampleLength, n)
	}
	return nil
}

// Verify matches sample against every stored profile and, on a match,
// issues a recovery token for the best owner.
func (s *RecoveryService) Verify(ctx context.Context, sample string) (VerifyResult, error) {
	if err := checkSample(sample); err != nil {
		return VerifyResult{}, err
	}
	profiles, err := s.repos.Profiles.List(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	if len(profiles) == 0 {
		return VerifyResult{}, errs.ErrNoBehavioralData
	}

	best, score, ok := stylometry.Match(stylometry.Extract(sample), profiles, s.threshold)
	if !ok {
		s.log.Info("behavioral sample not recognized", zap.Float64("confidence", score))
		return VerifyResult{}, &errs.NotRecognizedError{Confidence: score}
	}

	token, err := crypto.RandToken(32)
	if err != nil {
		return VerifyResult{}, err
	}
	exp := s.now().UTC().Add(RecoveryTokenTTL)
	if err := s.repos.Recovery.Save(ctx, &model.RecoveryToken{
		OwnerID:   best.OwnerID,
		TokenHash: crypto.HashSecret(token),
		ExpiresAt: exp,
	}); err != nil {
		return VerifyResult{}, fmt.Errorf("store recovery token: %w", err)
	}
	s.log.Info("recovery token issued", zap.String("owner", best.OwnerID), zap.Float64("confidence", score))
	return VerifyResult{OwnerID: best.OwnerID, Confidence: score, Token: token, ExpiresAt: exp}, nil
}

// Reset replaces the passphrase. The caller proves itself either with a
// recovery token or by being authenticated as the owner. Issued device
// credentials stay valid.
func (s *RecoveryService) Reset(ctx context.Context, req ResetRequest, caller *authctx.Auth) error {
	if req.OwnerID == "" {
		return errs.Validationf("userId is required")
	}
	if utf8.RuneCountInString(req.NewPassphrase) < MinPassphraseLength {
		return errs.Validationf("newPassphrase must be at least %d characters", MinPassphraseLength)
	}
	if _, err := s.repos.Owners.Get(ctx, req.OwnerID); err != nil {
		return err
	}

	if req.RecoveryToken != "" {
		// Consumed before the slow hash so concurrent resets cannot share it.
		if err := s.repos.Recovery.Consume(ctx, req.OwnerID, crypto.HashSecret(req.RecoveryToken), s.now()); err != nil {
			return err
		}
	} else if caller == nil || caller.OwnerID != req.OwnerID {
		return errs.ErrUnauthorized
	}

	hash, err := s.hasher.Hash(ctx, req.NewPassphrase)
	if err != nil {
		return err
	}
	if err := s.repos.Owners.UpdatePassphrase(ctx, req.OwnerID, hash); err != nil {
		return err
	}
	if err := s.lockout.Success(ctx, req.OwnerID); err != nil {
		s.log.Warn("lockout reset failed", zap.String("owner", req.OwnerID), zap.Error(err))
	}
	if err := s.repos.Recovery.Delete(ctx, req.OwnerID); err != nil {
		s.log.Warn("recovery token delete failed", zap.String("owner", req.OwnerID), zap.Error(err))
	}
	s.log.Info("passphrase reset", zap.String("owner", req.OwnerID), zap.Bool("via_token", req.RecoveryToken != ""))
	return nil
}

// Baseline overwrites the owner's profile with the mean of samples.
func (s *RecoveryService) Baseline(ctx context.Context, ownerID string, samples []string) (*model.Profile, error) {
	if len(samples) == 0 {
		return nil, errs.Validationf("at least one sample is required")
	}
	vs := make([]model.Features, 0, len(samples))
	for i, sm := range samples {
		if err := checkSample(sm); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		vs = append(vs, stylometry.Extract(sm))
	}
	p := &model.Profile{
		OwnerID:     ownerID,
		Features:    stylometry.Average(vs),
		SampleCount: len(vs),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.repos.Profiles.Put(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("behavioral baseline stored", zap.String("owner", ownerID), zap.Int("samples", len(vs)))
	return p, nil
}
