// Package config provides environment variable-based configuration loading.
//
// Purpose:
//
//	This package defines the service configuration structure and provides
//	functions to load configuration from environment variables using envconfig.
//	All binaries (admin-auth-api, authctl, migrate) share this configuration structure.
//
// Dependencies:
//   - github.com/kelseyhightower/envconfig: Environment variable parsing
//
// Key Responsibilities:
//   - Config struct defines all service configuration fields
//   - Load reads and validates environment variables
//   - MustLoad exits the process if configuration is invalid
//
// Debugging Notes:
//   - Required fields: DATABASE_URL, TOTP_ENCRYPTION_KEY
//   - TOTP_ENCRYPTION_KEY is base64 and must decode to exactly 32 bytes
//   - Redis is optional; without it counters live in Postgres and replay
//     state, sessions and the policy cache are process-local
//   - TOTP_SKEW_STEPS is capped at 1 (one 30s step either side)
//
// Thread Safety:
//   - Config struct is read-only after loading (safe for concurrent read access)
//
// Error Handling:
//   - Load returns wrapped errors from envconfig.Process and Validate
//   - MustLoad writes to stderr and exits on error
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents shared runtime configuration for the admin-auth binaries.
type Config struct {
	// ServiceName is emitted in logs and metrics.
	ServiceName string `envconfig:"SERVICE_NAME" default:"admin-auth-service"`
	// HTTPPort is the port the HTTP server listens on.
	HTTPPort int `envconfig:"HTTP_PORT" default:"8085"`
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	// RedisAddr is the host:port of the Redis instance. Empty disables Redis.
	RedisAddr string `envconfig:"REDIS_ADDR" default:""`
	// RedisPassword is the optional password for Redis authentication.
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	// RedisDB selects the logical Redis database index.
	RedisDB int `envconfig:"REDIS_DB" default:"0"`
	// LogLevel controls the zerolog level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// Environment describes the current deployment environment (dev, staging, prod, etc.).
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses.
	// If empty, audit entries are only persisted to Postgres.
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	// KafkaTopic is the Kafka topic name for audit entries.
	KafkaTopic string `envconfig:"KAFKA_TOPIC" default:"audit.admin-auth"`
	// KafkaClientID is the client ID used when connecting to Kafka.
	KafkaClientID string `envconfig:"KAFKA_CLIENT_ID" default:"admin-auth-service"`

	// TOTPIssuer is rendered into enrollment URIs.
	TOTPIssuer string `envconfig:"TOTP_ISSUER" default:"Dealership Admin"`
	// TOTPEncryptionKey seals TOTP secrets at rest (base64, 32 bytes).
	TOTPEncryptionKey string `envconfig:"TOTP_ENCRYPTION_KEY" required:"true"`
	// TOTPSkewSteps is the number of adjacent 30s steps accepted at login.
	TOTPSkewSteps int `envconfig:"TOTP_SKEW_STEPS" default:"1"`
	// EnrollmentPendingTTL bounds how long an unconfirmed secret stays usable.
	EnrollmentPendingTTL time.Duration `envconfig:"ENROLLMENT_PENDING_TTL" default:"10m"`

	PasswordCheckTimeout time.Duration `envconfig:"PASSWORD_CHECK_TIMEOUT" default:"3s"`
	DeviceCheckTimeout   time.Duration `envconfig:"DEVICE_CHECK_TIMEOUT" default:"2s"`
	PolicyCacheTTL       time.Duration `envconfig:"POLICY_CACHE_TTL" default:"30s"`

	// LoginRateLimit is the sustained login requests per second allowed per client IP.
	LoginRateLimit float64 `envconfig:"LOGIN_RATE_LIMIT" default:"5"`
	// LoginRateBurst is the burst size for the per-IP login limiter.
	LoginRateBurst int `envconfig:"LOGIN_RATE_BURST" default:"10"`
}

// Load reads environment variables into Config, applying defaults where necessary.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// MustLoad returns Config or exits the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.EncryptionKey(); err != nil {
		errs = append(errs, err)
	}
	if c.TOTPSkewSteps < 0 || c.TOTPSkewSteps > 1 {
		errs = append(errs, fmt.Errorf("TOTP_SKEW_STEPS must be 0 or 1, got %d", c.TOTPSkewSteps))
	}
	if strings.TrimSpace(c.TOTPIssuer) == "" || strings.Contains(c.TOTPIssuer, ":") {
		errs = append(errs, errors.New("TOTP_ISSUER must be non-empty and must not contain ':'"))
	}
	if c.EnrollmentPendingTTL <= 0 {
		errs = append(errs, errors.New("ENROLLMENT_PENDING_TTL must be positive"))
	}
	if c.LoginRateLimit <= 0 || c.LoginRateBurst <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// EncryptionKey decodes TOTPEncryptionKey.
func (c *Config) EncryptionKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.TOTPEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
