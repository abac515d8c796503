package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/memgate/internal/challenge"
	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/limiter"
	"github.com/and161185/memgate/internal/model"
	"github.com/and161185/memgate/internal/repository"
	"github.com/and161185/memgate/internal/repository/memory"
)

const (
	testOwner      = "alice"
	testPassphrase = "correct horse battery"
)

type env struct {
	repos      repository.Set
	challenges *challenge.Store
	lockout    *limiter.Memory
	auth       *AuthService
	recovery   *RecoveryService
}

type envOpts struct {
	challengeTTL time.Duration
	lockFor      time.Duration
}

func newEnv(t *testing.T, o envOpts) *env {
	t.Helper()
	if o.lockFor == 0 {
		o.lockFor = 15 * time.Minute
	}
	log := zaptest.NewLogger(t)
	hasher, err := crypto.NewHasher(crypto.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}, 4)
	require.NoError(t, err)

	e := &env{
		repos:      memory.New().Repositories(),
		challenges: challenge.NewStore(o.challengeTTL),
		lockout:    limiter.NewMemory(limiter.Policy{Threshold: 3, Duration: o.lockFor}),
	}
	e.auth = NewAuthService(e.repos, e.challenges, e.lockout, hasher,
		AuthOptions{DefaultOwner: testOwner, VolatileRegistration: true}, log)
	e.recovery = NewRecoveryService(e.repos, e.lockout, hasher, 0, log)
	require.NoError(t, e.auth.Bootstrap(context.Background(), testOwner, testPassphrase))
	return e
}

func (e *env) knock(t *testing.T) string {
	t.Helper()
	c, err := e.auth.Knock(context.Background(), model.DeviceDescriptor{Type: "cli", Name: "laptop"})
	require.NoError(t, err)
	return c.ID
}

func (e *env) login(t *testing.T, passphrase string) (model.IssuedCredential, error) {
	t.Helper()
	return e.auth.Exchange(context.Background(), ExchangeRequest{
		ChallengeID: e.knock(t),
		Passphrase:  passphrase,
		OwnerID:     testOwner,
	})
}
