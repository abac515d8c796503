package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/memgate/internal/authctx"
	"github.com/and161185/memgate/internal/challenge"
	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/limiter"
	"github.com/and161185/memgate/internal/metrics"
	"github.com/and161185/memgate/internal/ratelimit"
	"github.com/and161185/memgate/internal/repository/memory"
	"github.com/and161185/memgate/internal/service"
)

const (
	owner      = "alice"
	passphrase = "correct horse battery"
)

type testServer struct {
	h       http.Handler
	metrics *metrics.Metrics
}

type serverOpts struct {
	rateMax    int
	volatile   bool
	trustProxy bool
	origins    []string
}

func newTestServer(t *testing.T, o serverOpts) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	hasher, err := crypto.NewHasher(crypto.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}, 4)
	require.NoError(t, err)

	repos := memory.New().Repositories()
	lock := limiter.NewMemory(limiter.DefaultPolicy)
	auth := service.NewAuthService(repos, challenge.NewStore(0), lock, hasher,
		service.AuthOptions{DefaultOwner: owner, VolatileRegistration: o.volatile}, log)
	require.NoError(t, auth.Bootstrap(context.Background(), owner, passphrase))

	m := metrics.New()
	var rl *ratelimit.Limiter
	if o.rateMax > 0 {
		rl = ratelimit.New(ratelimit.NewMemory(), ratelimit.Config{
			Window: time.Minute, Max: o.rateMax, OnLimited: func() { m.Reject("rate_limited") },
			Identify: auth.DeviceID,
		}, log)
	}
	srv := New(Options{
		Auth:        auth,
		Recovery:    service.NewRecoveryService(repos, lock, hasher, 0, log),
		Limiter:     rl,
		Metrics:     m,
		Log:         log,
		CORSOrigins: o.origins,
		TrustProxy:  o.trustProxy,
	})
	return &testServer{h: srv.Router(), metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.doWith(t, method, path, key, body, nil)
}

// doWith is do with a hook to adjust the request before it is served.
func (ts *testServer) doWith(t *testing.T, method, path, key string, body any, edit func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = "192.0.2.10:5000"
	r.Header.Set("Content-Type", "application/json")
	if key != "" {
		r.Header.Set(authctx.HeaderAPIKey, key)
	}
	if edit != nil {
		edit(r)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func (ts *testServer) knock(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/knock", "", map[string]any{"device": map[string]string{"type": "cli", "name": "laptop"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["challenge"].(string)
}

func (ts *testServer) login(t *testing.T) (key, deviceID string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/exchange", "", map[string]any{
		"challenge": ts.knock(t), "passphrase": passphrase, "user_id": owner,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	return body["api_key"].(string), body["device_id"].(string)
}
