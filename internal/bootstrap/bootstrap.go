// Package bootstrap provides centralized initialization and lifecycle management for
// the admin auth service dependencies (Postgres, Redis, Kafka, auth core).
//
// Purpose:
//
//	This package wires together the runtime dependencies required by the
//	admin-auth-api and authctl binaries. It ensures consistent initialization
//	order, selects storage backends from configuration and provides a unified
//	shutdown and health check interface.
//
// Dependencies:
//   - github.com/redis/go-redis/v9: shared counters, replay guard, sessions, policy cache
//   - internal/storage/postgres: system of record
//   - internal/audit: Postgres recorder plus optional Kafka mirror
//   - internal/auth: the authentication orchestrator
//
// Key Responsibilities:
//   - Initialize connects to Postgres and optional Redis and Kafka, then composes auth.Service
//   - Runtime bundles all initialized dependencies for use by binaries
//   - ReadinessProbe checks health of Postgres and Redis connections
//   - Close releases all resources in reverse initialization order
//
// Debugging Notes:
//   - Redis connection failures fail fast during initialization (2s timeout)
//   - Without REDIS_ADDR, attempt counters use Postgres row locks and replay
//     state, sessions and cached policies stay in process memory, which is
//     only correct for a single replica
//   - Kafka is a best-effort mirror; Postgres audit writes are authoritative
//
// Thread Safety:
//   - Runtime struct is safe for concurrent read access after initialization
//   - Close should be called once during shutdown
//
// Error Handling:
//   - Initialization errors are wrapped with context (e.g., "bootstrap postgres: ...")
//   - ReadinessProbe returns errors that include dependency names
//   - Close collects errors but returns the first one encountered
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/config"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
	"github.com/otherjamesbrown/admin-auth-service/internal/logging"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/replay"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
	"github.com/otherjamesbrown/admin-auth-service/internal/storage/postgres"
)

const redisPrefix = "admin-auth"

// Runtime bundles initialized runtime dependencies for use by service binaries.
type Runtime struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Postgres *postgres.Store
	Redis    *redis.Client        // nil when REDIS_ADDR is empty
	Kafka    *audit.KafkaRecorder // nil when KAFKA_BROKERS is empty
	Audit    audit.Recorder

	Policies   *policy.Service
	Governor   *governor.Governor
	Enrollment *enrollment.Manager
	Sessions   *session.Manager
	Auth       *auth.Service
}

// Initialize wires dependencies based on the provided configuration.
// Initialization order: Postgres → Redis (if configured) → Kafka (if configured) → auth core.
// The returned Runtime must be closed via Close() during shutdown.
func Initialize(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("bootstrap sealer: %w", err)
	}
	sealer, err := security.NewSecretSealer(key)
	if err != nil {
		return nil, fmt.Errorf("bootstrap sealer: %w", err)
	}

	pgStore, err := postgres.NewStore(ctx, cfg.DatabaseURL, postgres.WithSecretSealer(sealer))
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pgStore.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
	}

	kafkaRecorder, err := audit.NewKafkaRecorderFromConfig(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaClientID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize Kafka audit mirror, continuing with Postgres only")
		kafkaRecorder = nil
	}

	rt, err := Assemble(cfg, logger, pgStore, redisClient, kafkaRecorder)
	if err != nil {
		pgStore.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}
	return rt, nil
}

// Assemble composes the auth core on top of already-connected clients.
// redisClient and kafkaRecorder may be nil.
func Assemble(cfg *config.Config, logger zerolog.Logger, pgStore *postgres.Store, redisClient *redis.Client, kafkaRecorder *audit.KafkaRecorder) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Postgres: pgStore,
		Redis:    redisClient,
		Kafka:    kafkaRecorder,
	}

	var (
		counters governor.CounterStore
		guard    replay.Guard
		sessions session.Store
		cache    policy.Cache
	)
	if redisClient != nil {
		counters = governor.NewRedisStore(redisClient, redisPrefix)
		guard = replay.NewRedisGuard(redisClient, redisPrefix)
		sessions = session.NewRedisStore(redisClient, redisPrefix)
		cache = policy.NewRedisCache(redisClient, redisPrefix, cfg.PolicyCacheTTL)
		logger.Info().Msg("using Redis for counters, replay guard, sessions and policy cache")
	} else {
		counters = pgStore
		guard = replay.NewMemoryGuard(nil)
		sessions = session.NewMemoryStore(nil)
		cache = policy.NewMemoryCache(cfg.PolicyCacheTTL)
		logger.Warn().Msg("Redis not configured, replay guard and sessions are process-local")
	}

	recorders := audit.Multi{pgStore}
	if kafkaRecorder != nil {
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("mirroring audit entries to Kafka")
		recorders = append(recorders, audit.BestEffort{Recorder: kafkaRecorder, Logger: logger})
	}
	rt.Audit = recorders

	rt.Policies = policy.NewService(pgStore, cache, logger)
	rt.Governor = governor.New(counters, logger)
	rt.Enrollment = enrollment.NewManager(pgStore, guard, enrollment.Config{
		Issuer:     cfg.TOTPIssuer,
		PendingTTL: cfg.EnrollmentPendingTTL,
	}, logger)
	rt.Sessions = session.NewManager(sessions, nil)

	svc, err := auth.New(auth.Dependencies{
		Credentials: pgStore,
		Policies:    rt.Policies,
		Governor:    rt.Governor,
		Enrollment:  rt.Enrollment,
		Sessions:    rt.Sessions,
		Audit:       rt.Audit,
		Replay:      guard,
		DeviceStore: pgStore,
		AuditLister: pgStore,
		Logger:      logger,
	}, auth.Config{
		TOTPToleranceSteps:   cfg.TOTPSkewSteps,
		PasswordCheckTimeout: cfg.PasswordCheckTimeout,
		DeviceCheckTimeout:   cfg.DeviceCheckTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}
	rt.Auth = svc
	return rt, nil
}

// Close releases runtime resources in reverse initialization order.
// Returns the first error encountered but continues closing other resources.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var firstErr error
	if rt.Kafka != nil {
		if err := rt.Kafka.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Postgres != nil {
		rt.Postgres.Close()
	}
	return firstErr
}

// ReadinessProbe checks the health of critical runtime dependencies.
func (rt *Runtime) ReadinessProbe(ctx context.Context) error {
	if rt.Postgres != nil && rt.Postgres.Pool() != nil {
		if err := rt.Postgres.Pool().Ping(ctx); err != nil {
			return fmt.Errorf("postgres not ready: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
	}
	return nil
}
