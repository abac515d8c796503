package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/authctx"
	"github.com/and161185/memgate/internal/errs"
	"github.com/and161185/memgate/internal/netutil"
)

// DefaultExempt are paths that are never limited.
var DefaultExempt = []string{"/healthz", "/health", "/metrics"}

// Config tunes the limiter.
type Config struct {
	Window time.Duration
	Max    int
	// Exempt lists path prefixes that bypass the limiter in addition to DefaultExempt.
	Exempt []string
	// OnLimited, when set, is called for every rejected request.
	OnLimited func()
	// Identify resolves a presented credential to a stable client id. Only
	// credentials it accepts get their own window; everything else is keyed
	// by IP, so made-up keys cannot mint fresh windows.
	Identify func(ctx context.Context, key string) (string, bool)
}

// Limiter applies a fixed-window budget per client.
type Limiter struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

// New constructs a limiter over store.
func New(store Store, cfg Config, log *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	return &Limiter{store: store, cfg: cfg, log: log}
}

// Middleware enforces the budget and sets X-RateLimit-* headers. A store
// failure lets the request through and is logged.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		win, err := l.store.Hit(r.Context(), l.ClientKey(r), l.cfg.Window)
		if err != nil {
			l.log.Warn("rate limit store failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := l.cfg.Max - win.Count
		if remaining < 0 {
			remaining = 0
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(win.Reset.Unix(), 10))

		if win.Count > l.cfg.Max {
			retry := int(math.Ceil(time.Until(win.Reset).Seconds()))
			if retry < 1 {
				retry = 1
			}
			if l.cfg.OnLimited != nil {
				l.cfg.OnLimited()
			}
			h.Set("Retry-After", strconv.Itoa(retry))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":      errs.ErrRateLimited.Error(),
				"message":    "Too many requests",
				"retryAfter": retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) exempt(path string) bool {
	for _, p := range DefaultExempt {
		if path == p {
			return true
		}
	}
	for _, p := range l.cfg.Exempt {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ClientKey identifies the client: the device behind a valid credential,
// else its normalized IP.
func (l *Limiter) ClientKey(r *http.Request) string {
	if k := authctx.PresentedKey(r); k != "" && l.cfg.Identify != nil {
		if id, ok := l.cfg.Identify(r.Context(), k); ok {
			return "dev:" + id
		}
	}
	return "ip:" + netutil.ClientIP(r)
}
