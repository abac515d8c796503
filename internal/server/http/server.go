// Package httpserver exposes the trust gate over HTTP.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/metrics"
	"github.com/and161185/memgate/internal/ratelimit"
	"github.com/and161185/memgate/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth     *service.AuthService
	recovery *service.RecoveryService
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	log      *zap.Logger
	origins  []string
	trust    bool
}

// Options are the collaborators of a Server. Limiter may be nil to disable rate limiting.
type Options struct {
	Auth     *service.AuthService
	Recovery *service.RecoveryService
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	// CORSOrigins are allowed to call with credentials. Empty disables cross-origin access.
	CORSOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// New constructs a server.
func New(o Options) *Server {
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Server{
		auth:     o.Auth,
		recovery: o.Recovery,
		limiter:  o.Limiter,
		metrics:  o.Metrics,
		log:      o.Log,
		origins:  o.CORSOrigins,
		trust:    o.TrustProxy,
	}
}

// Router builds the full middleware chain and route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if s.trust {
		r.Use(chimw.RealIP)
	}
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(Instrument(s.metrics))
	r.Use(StoreHeader(s.auth.Store()))
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Auth-Store", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", s.health)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/knock", s.knock)
		r.Post("/exchange", s.exchange)
		r.Post("/register", s.register)
		r.Post("/verify-stylometry", s.verifyStylometry)
		r.With(s.OptionalAuth).Post("/reset-passphrase", s.resetPassphrase)

		r.Group(func(pr chi.Router) {
			pr.Use(s.RequireAuth)
			pr.Get("/devices", s.devices)
			pr.Post("/revoke", s.revoke)
			pr.Post("/stylometry/baseline", s.baseline)
			pr.Get("/me", s.me)
		})
	})
	return r
}
