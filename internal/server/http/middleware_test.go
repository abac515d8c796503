package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/memgate/internal/errs"
)

func TestLogging_PassthroughWithoutSecrets(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("X-API-Key", "mk_supersecret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.EqualValues(t, http.StatusTeapot, entry.ContextMap()["status"])
	require.Equal(t, "/auth/me", entry.ContextMap()["path"])
	require.NotContains(t, fmt.Sprint(entry.ContextMap()), "mk_supersecret")
}

func TestRecover_CatchesPanic(t *testing.T) {
	t.Parallel()
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}))
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal")
}

func TestStoreHeader(t *testing.T) {
	t.Parallel()
	h := StoreHeader("postgres")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "postgres", rec.Header().Get("X-Auth-Store"))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Validationf("bad"), http.StatusBadRequest, "malformed"},
		{errs.ErrInvalidChallenge, http.StatusBadRequest, "invalid_challenge"},
		{fmt.Errorf("wrapped: %w", errs.ErrChallengeExpired), http.StatusBadRequest, "challenge_expired"},
		{errs.ErrChallengeReused, http.StatusBadRequest, "challenge_reused"},
		{&errs.PassphraseError{AttemptsRemaining: 1}, http.StatusUnauthorized, "invalid_passphrase"},
		{&errs.LockedError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "account_locked"},
		{errs.ErrInvalidAPIKey, http.StatusUnauthorized, "invalid_api_key"},
		{errs.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{errs.ErrInvalidToken, http.StatusUnauthorized, "invalid_recovery_token"},
		{errs.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{errs.ErrNotFound, http.StatusNotFound, "not_found"},
		{errs.ErrNoBehavioralData, http.StatusNotFound, "no_behavioral_data"},
		{fmt.Errorf("%w: dial", errs.ErrStoreUnavailable), http.StatusServiceUnavailable, "store_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			status, body := classify(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, body.Error)
		})
	}

	_, body := classify(&errs.LockedError{RetryAfter: 90 * time.Second})
	require.Equal(t, 90, body.RetryAfter)
	require.Contains(t, body.Message, "2 minute")
}
