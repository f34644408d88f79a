package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/semilia/storefront/pkg/config"
)

// DefaultJWTSecret is the development signing secret. It is rejected outside
// development.
const DefaultJWTSecret = "storefront-dev-secret"

// Guest store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the storefront server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int      `env:"STOREFRONT_HTTP_PORT" envDefault:"8090"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	PprofCIDRs     []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Remote cart API
	CartAPIURL        string        `env:"CART_API_URL" envDefault:"http://localhost:8003/api/v1"`
	CartAPITimeout    time.Duration `env:"CART_API_TIMEOUT" envDefault:"5s"`
	CartAPIMaxRetries int           `env:"CART_API_MAX_RETRIES" envDefault:"2"`

	// Guest store
	GuestStoreBackend string `env:"GUEST_STORE_BACKEND" envDefault:"redis"`
	GuestStorePath    string `env:"GUEST_STORE_PATH" envDefault:"storefront-guest.db"`
	GuestCartTTLHours int    `env:"GUEST_CART_TTL_HOURS" envDefault:"720"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Identity
	JWTSecret string `env:"JWT_SECRET" envDefault:"storefront-dev-secret"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:""`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	NotifyKafkaEnabled bool     `env:"NOTIFY_KAFKA_ENABLED" envDefault:"false"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"0.1"`

	// Sessions
	SessionIdleTTLMinutes int `env:"SESSION_IDLE_TTL_MINUTES" envDefault:"60"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GuestCartTTL is how long an untouched guest cart is kept by expiring
// backends.
func (c *Config) GuestCartTTL() time.Duration {
	return time.Duration(c.GuestCartTTLHours) * time.Hour
}

// SessionIdleTTL is how long an unused storefront session stays in memory.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CartAPIURL == "" {
		return errors.New("CART_API_URL is required")
	}
	if c.CartAPITimeout <= 0 {
		return fmt.Errorf("CART_API_TIMEOUT must be positive, got %s", c.CartAPITimeout)
	}
	if c.CartAPIMaxRetries < 0 {
		return fmt.Errorf("CART_API_MAX_RETRIES must not be negative, got %d", c.CartAPIMaxRetries)
	}
	switch c.GuestStoreBackend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.GuestStorePath == "" {
			return errors.New("GUEST_STORE_PATH is required for the sqlite guest store")
		}
	default:
		return fmt.Errorf("unknown guest store backend %q (want memory, redis or sqlite)", c.GuestStoreBackend)
	}
	if c.GuestCartTTLHours < 0 {
		return fmt.Errorf("GUEST_CART_TTL_HOURS must not be negative, got %d", c.GuestCartTTLHours)
	}
	if c.SessionIdleTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL_MINUTES must be positive, got %d", c.SessionIdleTTLMinutes)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %g", c.OTELSampleRate)
	}
	if c.NotifyKafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when NOTIFY_KAFKA_ENABLED is set")
	}
	if c.JWTSecret == DefaultJWTSecret && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET must be set in the %s environment", c.Environment)
	}
	return nil
}
