// Package config loads server configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Addr        string `yaml:"addr"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Argon2     Argon2Config     `yaml:"argon2"`
	Stylometry StylometryConfig `yaml:"stylometry"`

	DefaultOwner      string   `yaml:"default_owner"`
	DefaultPassphrase string   `yaml:"default_passphrase"`
	CORSOrigins       []string `yaml:"cors_origins"`
	// TrustProxy honors X-Forwarded-For/X-Real-IP for client addresses.
	TrustProxy bool `yaml:"trust_proxy"`

	SweepInterval    time.Duration `yaml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
	Max       int           `yaml:"max"`
	Exempt    []string      `yaml:"exempt"`
}

type LockoutConfig struct {
	Threshold   int           `yaml:"threshold"`
	Duration    time.Duration `yaml:"-"`
	DurationRaw string        `yaml:"duration"`
}

type Argon2Config struct {
	Memory      uint32 `yaml:"memory"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	Concurrency int    `yaml:"hash_concurrency"`
}

type StylometryConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:          ":8080",
		Environment:   "development",
		LogLevel:      "info",
		RateLimit:     RateLimitConfig{Window: time.Minute, Max: 100},
		Lockout:       LockoutConfig{Threshold: 3, Duration: 15 * time.Minute},
		Argon2:        Argon2Config{Memory: 64 * 1024, Time: 3, Parallelism: 1, Concurrency: 4},
		Stylometry:    StylometryConfig{Threshold: 0.65},
		DefaultOwner:  "owner",
		SweepInterval: time.Minute,
	}
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// IsDevelopment reports whether volatile development conveniences are enabled.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Load reads .env (if present), the YAML file at path (if non-empty) and the
// process environment, then validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data), getenv)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envRefRe = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string, getenv func(string) string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(match string) string {
		return getenv(envRefRe.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"lockout.duration", cfg.Lockout.DurationRaw, &cfg.Lockout.Duration},
		{"sweep_interval", cfg.SweepIntervalRaw, &cfg.SweepInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Addr)
	str("ENVIRONMENT", &cfg.Environment)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("DEFAULT_OWNER", &cfg.DefaultOwner)
	str("DEFAULT_PASSPHRASE", &cfg.DefaultPassphrase)

	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := getenv("RATE_LIMIT_EXEMPT"); v != "" {
		cfg.RateLimit.Exempt = splitList(v)
	}

	var err error
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" && err == nil {
			var d time.Duration
			if d, err = time.ParseDuration(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" && err == nil {
			if *dst, err = strconv.ParseBool(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	integer := func(key string, bits int, set func(uint64)) {
		if v := getenv(key); v != "" && err == nil {
			var n uint64
			if n, err = strconv.ParseUint(v, 10, bits); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			set(n)
		}
	}
	dur("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	dur("LOCKOUT_DURATION", &cfg.Lockout.Duration)
	dur("SWEEP_INTERVAL", &cfg.SweepInterval)
	boolean("TRUST_PROXY", &cfg.TrustProxy)
	integer("RATE_LIMIT_MAX", 31, func(n uint64) { cfg.RateLimit.Max = int(n) })
	integer("LOCKOUT_THRESHOLD", 31, func(n uint64) { cfg.Lockout.Threshold = int(n) })
	integer("ARGON2_MEMORY", 32, func(n uint64) { cfg.Argon2.Memory = uint32(n) })
	integer("ARGON2_TIME", 32, func(n uint64) { cfg.Argon2.Time = uint32(n) })
	integer("ARGON2_PARALLELISM", 8, func(n uint64) { cfg.Argon2.Parallelism = uint8(n) })
	integer("HASH_CONCURRENCY", 31, func(n uint64) { cfg.Argon2.Concurrency = int(n) })
	if v := getenv("STYLOMETRY_THRESHOLD"); v != "" && err == nil {
		if cfg.Stylometry.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			err = fmt.Errorf("STYLOMETRY_THRESHOLD: %w", err)
		}
	}
	return err
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.window and rate_limit.max must be positive")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("lockout.threshold and lockout.duration must be positive")
	}
	if c.Argon2.Memory < 8*1024 || c.Argon2.Time < 1 || c.Argon2.Parallelism < 1 {
		return fmt.Errorf("argon2 parameters too weak: memory>=8192 KiB, time>=1, parallelism>=1")
	}
	if c.Stylometry.Threshold <= 0 || c.Stylometry.Threshold > 1 {
		return fmt.Errorf("stylometry.threshold must be in (0,1]")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.DefaultOwner == "" {
		return fmt.Errorf("default_owner is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}
