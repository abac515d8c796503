// Package authctx carries the authenticated principal through a request
// context and extracts presented credentials from requests. Downstream
// consumers (memory CRUD, content filters) read the principal via FromContext.
package authctx

import (
	"context"
	"net/http"
	"strings"
)

const (
	// HeaderAPIKey is the primary credential header.
	HeaderAPIKey = "X-API-Key"
	// CookieName is the browser-session fallback.
	CookieName = "memgate_key"
)

// Auth is the principal attached to an authenticated request.
type Auth struct {
	OwnerID   string
	DeviceID  string
	KeyPrefix string // redacted form of the presented key, safe to log
}

type ctxKey struct{}

// WithAuth returns a copy of ctx carrying a.
func WithAuth(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the principal, if the request was authenticated.
func FromContext(ctx context.Context) (Auth, bool) {
	a, ok := ctx.Value(ctxKey{}).(Auth)
	return a, ok
}

// PresentedKey returns the credential the request carries, in order of
// preference: X-API-Key, Authorization: Bearer, then the session cookie.
func PresentedKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			if k := strings.TrimSpace(h[len(prefix):]); k != "" {
				return k
			}
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
