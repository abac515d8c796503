package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/challenge"
	"github.com/and161185/memgate/internal/config"
	"github.com/and161185/memgate/internal/crypto"
	"github.com/and161185/memgate/internal/limiter"
	"github.com/and161185/memgate/internal/metrics"
	"github.com/and161185/memgate/internal/migrate"
	"github.com/and161185/memgate/internal/ratelimit"
	"github.com/and161185/memgate/internal/repository"
	"github.com/and161185/memgate/internal/repository/memory"
	"github.com/and161185/memgate/internal/repository/postgres"
	httpserver "github.com/and161185/memgate/internal/server/http"
	"github.com/and161185/memgate/internal/service"
)

// app is the fully wired server plus the resources it must release.
type app struct {
	handler    http.Handler
	store      string
	challenges *challenge.Store
	rateMemory *ratelimit.Memory // nil when Redis backs the limiter
	rateWindow time.Duration
	lockouts   sweeper // lifted lockout entries; nil if the backend keeps none in memory
	log        *zap.Logger
	closers    []func()
}

type sweeper interface{ Sweep() int }

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// sweep drops expired in-memory state until ctx is done.
func (a *app) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := a.challenges.Sweep()
			if a.rateMemory != nil {
				n += a.rateMemory.Sweep(a.rateWindow)
			}
			if a.lockouts != nil {
				n += a.lockouts.Sweep()
			}
			if n > 0 {
				a.log.Debug("swept expired state", zap.Int("entries", n))
			}
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log, rateWindow: cfg.RateLimit.Window}
	policy := limiter.Policy{Threshold: cfg.Lockout.Threshold, Duration: cfg.Lockout.Duration}

	repos, lockout := openStores(ctx, cfg, policy, log, a)
	a.store = repos.Source
	if sw, ok := lockout.(sweeper); ok {
		a.lockouts = sw
	}

	rateStore := openRateStore(ctx, cfg, log, a)

	hasher, err := crypto.NewHasher(crypto.Params{
		Memory:      cfg.Argon2.Memory,
		Time:        cfg.Argon2.Time,
		Parallelism: cfg.Argon2.Parallelism,
	}, cfg.Argon2.Concurrency)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.challenges = challenge.NewStore(challenge.TTL)
	authSvc := service.NewAuthService(repos, a.challenges, lockout, hasher, service.AuthOptions{
		DefaultOwner:         cfg.DefaultOwner,
		VolatileRegistration: cfg.IsDevelopment(),
	}, log.Named("auth"))
	recoverySvc := service.NewRecoveryService(repos, lockout, hasher, cfg.Stylometry.Threshold, log.Named("recovery"))

	if cfg.DefaultPassphrase != "" {
		if cfg.IsProduction() {
			log.Warn("DEFAULT_PASSPHRASE is set in production; remove it once the owner exists")
		}
		if err := authSvc.Bootstrap(ctx, cfg.DefaultOwner, cfg.DefaultPassphrase); err != nil {
			a.Close()
			return nil, err
		}
	}

	m := metrics.New()
	lim := ratelimit.New(rateStore, ratelimit.Config{
		Window:    cfg.RateLimit.Window,
		Max:       cfg.RateLimit.Max,
		Exempt:    append(append([]string{}, ratelimit.DefaultExempt...), cfg.RateLimit.Exempt...),
		OnLimited: func() { m.Reject("rate_limited") },
		Identify:  authSvc.DeviceID,
	}, log.Named("ratelimit"))

	a.handler = httpserver.New(httpserver.Options{
		Auth:        authSvc,
		Recovery:    recoverySvc,
		Limiter:     lim,
		Metrics:     m,
		Log:         log.Named("http"),
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	}).Router()
	return a, nil
}

// openStores prefers PostgreSQL and falls back to process memory when it is
// unset or unreachable. The choice is made once and never revisited.
func openStores(ctx context.Context, cfg *config.Config, policy limiter.Policy, log *zap.Logger, a *app) (repository.Set, limiter.Lockout) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using volatile in-memory store")
		return memory.New().Repositories(), limiter.NewMemory(policy)
	}

	version, err := migrate.Up(ctx, cfg.DatabaseURL, log.Named("migrate"))
	if err == nil {
		var db *postgres.DB
		if db, err = postgres.New(ctx, cfg.DatabaseURL); err == nil {
			log.Info("using postgres store", zap.Int64("schema_version", version))
			a.closers = append(a.closers, db.Close)
			return db.Repositories(), limiter.NewPG(db.Pool, policy)
		}
	}
	log.Error("postgres unavailable; FALLING BACK TO VOLATILE IN-MEMORY STORE, data will not survive restart",
		zap.Error(err))
	return memory.New().Repositories(), limiter.NewMemory(policy)
}

func openRateStore(ctx context.Context, cfg *config.Config, log *zap.Logger, a *app) ratelimit.Store {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			rdb := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = rdb.Ping(pingCtx).Err()
			cancel()
			if err == nil {
				log.Info("using redis rate-limit store")
				a.closers = append(a.closers, func() { _ = rdb.Close() })
				return ratelimit.NewRedis(rdb, "")
			}
			_ = rdb.Close()
		}
		log.Warn("redis unavailable; rate limiting is per-process", zap.Error(err))
	}
	a.rateMemory = ratelimit.NewMemory()
	return a.rateMemory
}
