package bootstrap

import (
	"context"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/config"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
	"github.com/otherjamesbrown/admin-auth-service/internal/storage/postgres"
	"github.com/otherjamesbrown/admin-auth-service/migrations"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:          "admin-auth-test",
		TOTPIssuer:           "Dealer Admin",
		TOTPEncryptionKey:    base64.StdEncoding.EncodeToString(make([]byte, 32)),
		TOTPSkewSteps:        1,
		EnrollmentPendingTTL: 10 * time.Minute,
		PasswordCheckTimeout: 3 * time.Second,
		DeviceCheckTimeout:   2 * time.Second,
		PolicyCacheTTL:       time.Minute,
		KafkaTopic:           "audit.admin-auth",
	}
}

func TestAssembleWithoutRedis(t *testing.T) {
	rt, err := Assemble(testConfig(), zerolog.Nop(), postgres.NewStoreFromPool(nil), nil, nil)
	require.NoError(t, err)

	require.NotNil(t, rt.Auth)
	require.NotNil(t, rt.Policies)
	recorders, ok := rt.Audit.(audit.Multi)
	require.True(t, ok)
	assert.Len(t, recorders, 1)
	assert.NoError(t, rt.Close(context.Background()))
}

func TestAssembleMirrorsAuditToKafka(t *testing.T) {
	kafka := audit.NewKafkaRecorder(audit.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "audit.admin-auth"}, zerolog.Nop())
	rt, err := Assemble(testConfig(), zerolog.Nop(), postgres.NewStoreFromPool(nil), nil, kafka)
	require.NoError(t, err)

	recorders, ok := rt.Audit.(audit.Multi)
	require.True(t, ok)
	require.Len(t, recorders, 2)
	assert.IsType(t, audit.BestEffort{}, recorders[1])
	assert.NoError(t, rt.Close(context.Background()))
}

func TestRuntimeEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("admin_auth"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connString)
	require.NoError(t, err)
	defer db.Close()
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, migrations.Dir))

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer func() { _ = redisContainer.Terminate(ctx) }()
	redisURL, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)
	redisOpts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	cfg := testConfig()
	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	sealer, err := security.NewSecretSealer(key)
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	defer pool.Close()
	store := postgres.NewStoreFromPool(pool, postgres.WithSecretSealer(sealer))

	rt, err := Assemble(cfg, zerolog.Nop(), store, redis.NewClient(redisOpts), nil)
	require.NoError(t, err)
	defer func() { _ = rt.Close(ctx) }()
	require.NoError(t, rt.ReadinessProbe(ctx))

	hash, err := security.HashPassword("Dealer$hip2026")
	require.NoError(t, err)
	require.NoError(t, store.SetPasswordHash(ctx, "alice", hash))
	_, err = rt.Auth.SetPolicy(ctx, "alice", policy.Policy{
		RequiredFactors:        []policy.Factor{policy.FactorPassword},
		MaxAttempts:            2,
		LockoutDurationSeconds: 600,
		SessionTimeoutSeconds:  900,
	})
	require.NoError(t, err)

	// Enrollment persists the sealed factor through Postgres.
	challenge, err := rt.Auth.StartEnrollment(ctx, "alice")
	require.NoError(t, err)
	secret, err := security.DecodeSecret(challenge.SecretDisplay)
	require.NoError(t, err)
	code, err := security.CurrentCode(secret, time.Now())
	require.NoError(t, err)
	status, err := rt.Auth.ConfirmEnrollment(ctx, "alice", code)
	require.NoError(t, err)
	assert.Equal(t, auth.ConfirmEnabled, status)

	sec, err := rt.Auth.GetSecurityStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StateEnabled, sec.TOTPState)

	// Password login issues a Redis-backed session.
	res, err := rt.Auth.Authenticate(ctx, auth.Request{AccountID: "alice", Password: "Dealer$hip2026"})
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	sess, err := rt.Auth.ValidateSession(ctx, res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.AccountID)

	// Redis counters lock the account after two failures.
	for i := 0; i < 2; i++ {
		res, err = rt.Auth.Authenticate(ctx, auth.Request{AccountID: "alice", Password: "wrong"})
		require.NoError(t, err)
		assert.Equal(t, audit.ReasonInvalidCredentials, res.Reason)
	}
	res, err = rt.Auth.Authenticate(ctx, auth.Request{AccountID: "alice", Password: "Dealer$hip2026"})
	require.NoError(t, err)
	assert.Equal(t, audit.ReasonAccountLocked, res.Reason)

	entries, err := rt.Auth.ListAudit(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	for _, e := range entries {
		assert.True(t, e.VerifyHash())
	}
}
