package authctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithAuth(context.Background(), Auth{OwnerID: "alice", DeviceID: "d1"})
	a, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "alice", a.OwnerID)
	require.Equal(t, "d1", a.DeviceID)
}

func TestPresentedKey(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"none", func(*http.Request) {}, ""},
		{"api key header", func(r *http.Request) { r.Header.Set(HeaderAPIKey, " mk_a ") }, "mk_a"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer mk_b") }, "mk_b"},
		{"bearer lower case", func(r *http.Request) { r.Header.Set("Authorization", "bearer mk_c") }, "mk_c"},
		{"basic ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9v") }, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "mk_d"}) }, "mk_d"},
		{"header wins over cookie", func(r *http.Request) {
			r.Header.Set(HeaderAPIKey, "mk_e")
			r.AddCookie(&http.Cookie{Name: CookieName, Value: "mk_f"})
		}, "mk_e"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(r)
			require.Equal(t, tc.want, PresentedKey(r))
		})
	}
}
