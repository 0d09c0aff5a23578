package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

type Config struct {
	Port          string `env:"PORT,           default=8080"`
	Env           string `env:"ENV,            default=development"`
	LogLevel      string `env:"LOG_LEVEL,      default=info"`
	SessionSecret string `env:"SESSION_SECRET"`
	AuditWorkers  int    `env:"AUDIT_WORKERS,  default=4"`

	Upstream UpstreamConfig
	Session  SessionConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type UpstreamConfig struct {
	URL     string        `env:"UPSTREAM_URL,     default=http://localhost:9000"`
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT, default=10s"`
}

type SessionConfig struct {
	TTL          time.Duration `env:"SESSION_TTL,   default=24h"`
	RememberTTL  time.Duration `env:"REMEMBER_TTL,  default=720h"`
	RenewalGrace time.Duration `env:"RENEWAL_GRACE, default=30s"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=storefront_gateway"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool { return c.Env == "production" }

// TTLPolicy returns the session lifetimes as a domain policy.
func (c *Config) TTLPolicy() domain.TTLPolicy {
	return domain.TTLPolicy{Default: c.Session.TTL, Remember: c.Session.RememberTTL}
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("UPSTREAM_URL is required"))
	}
	if c.Session.TTL <= 0 || c.Session.RememberTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL and REMEMBER_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
