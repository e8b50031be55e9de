package postgres

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("admin_auth"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connString)
	require.NoError(t, err)

	_, filename, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations", "sql")

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, migrationsDir))

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)

	sealer, err := security.NewSecretSealer(make([]byte, 32))
	require.NoError(t, err)
	store := NewStoreFromPool(pool, WithSecretSealer(sealer))

	cleanup := func() {
		pool.Close()
		_ = db.Close()
		require.NoError(t, container.Terminate(ctx))
	}

	return store, cleanup
}

func TestStorePolicies(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetPolicy(ctx, "alice")
	require.ErrorIs(t, err, policy.ErrNotFound)

	p := policy.Policy{
		RequiredFactors:        []policy.Factor{policy.FactorPassword, policy.FactorTOTP},
		MaxAttempts:            3,
		LockoutDurationSeconds: 900,
		SessionTimeoutSeconds:  3600,
	}
	require.NoError(t, store.PutPolicy(ctx, "alice", p))

	got, err := store.GetPolicy(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, p, got)

	p.MaxAttempts = 10
	require.NoError(t, store.PutPolicy(ctx, "alice", p))
	got, err = store.GetPolicy(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 10, got.MaxAttempts)

	require.NoError(t, store.DeletePolicy(ctx, "alice"))
	require.ErrorIs(t, store.DeletePolicy(ctx, "alice"), policy.ErrNotFound)

	// The schema refuses policies without the password factor.
	bad := p
	bad.RequiredFactors = []policy.Factor{policy.FactorTOTP}
	require.Error(t, store.PutPolicy(ctx, "alice", bad))
}

func TestStoreFactorsAreSealed(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	secret, err := security.GenerateSecret()
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.SaveFactor(ctx, enrollment.Factor{AccountID: "alice", Secret: secret, CreatedAt: now, ConfirmedAt: now}))

	got, err := store.GetFactor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, secret, got.Secret)
	assert.True(t, now.Equal(got.ConfirmedAt))

	var raw []byte
	require.NoError(t, store.Pool().QueryRow(ctx, `SELECT sealed_secret FROM totp_factors WHERE account_id = 'alice'`).Scan(&raw))
	assert.NotContains(t, string(raw), string(secret))

	require.NoError(t, store.DeleteFactor(ctx, "alice"))
	_, err = store.GetFactor(ctx, "alice")
	require.ErrorIs(t, err, enrollment.ErrNotFound)
	require.ErrorIs(t, store.DeleteFactor(ctx, "alice"), enrollment.ErrNotFound)
}

func TestStoreFactorsRequireSealer(t *testing.T) {
	store := NewStoreFromPool(nil)
	_, err := store.GetFactor(context.Background(), "alice")
	require.ErrorIs(t, err, ErrSealerRequired)
	require.ErrorIs(t, store.SaveFactor(context.Background(), enrollment.Factor{AccountID: "alice"}), ErrSealerRequired)
}

func TestStoreCounterConcurrentFailures(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	var (
		wg          sync.WaitGroup
		transitions atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, lockedNow, err := store.RecordFailures(ctx, "alice", now, 1, 5, time.Minute)
			assert.NoError(t, err)
			if lockedNow {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	c, err := store.LoadCounter(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, c.ConsecutiveFailures)
	require.NotNil(t, c.LockedUntil)
	assert.True(t, now.Add(time.Minute).Equal(*c.LockedUntil))

	held, cleared, err := store.ClearUnlessLocked(ctx, "alice", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, cleared, "a live lock survives a success reset")
	assert.Equal(t, 5, held.ConsecutiveFailures)

	require.NoError(t, store.ResetCounter(ctx, "alice"))
	c, err = store.LoadCounter(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, c.ConsecutiveFailures)
	assert.Nil(t, c.LockedUntil)
}

func TestStoreAuditAppendOnly(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Now()

	first := audit.NewEntry("alice", base, audit.OutcomeFailure, audit.ReasonInvalidTOTP, []string{"password", "totp"},
		map[string]string{audit.ContextIPAddress: "203.0.113.5", audit.ContextReplay: "true"})
	second := audit.NewEntry("alice", base.Add(time.Second), audit.OutcomeSuccess, audit.ReasonNone, nil, nil)
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))
	require.NoError(t, store.Record(ctx, audit.NewEntry("bob", base, audit.OutcomeSuccess, audit.ReasonNone, nil, nil)))

	entries, err := store.ListEntries(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.EntryID, entries[0].EntryID)
	assert.Equal(t, first.EntryID, entries[1].EntryID)
	assert.Equal(t, first.Hash, entries[1].Hash)
	assert.Equal(t, first.SourceContext, entries[1].SourceContext)
	assert.Equal(t, audit.ReasonInvalidTOTP, entries[1].FailureReason)
	for _, e := range entries {
		assert.True(t, e.VerifyHash(), "hash survives the round trip")
	}

	// Duplicate ids are rejected and surfaced as write failures.
	require.ErrorIs(t, store.Record(ctx, first), audit.ErrWriteFailure)

	_, err = store.Pool().Exec(ctx, `UPDATE audit_entries SET outcome = 'success' WHERE entry_id = $1`, first.EntryID)
	require.Error(t, err)
	_, err = store.Pool().Exec(ctx, `DELETE FROM audit_entries WHERE entry_id = $1`, first.EntryID)
	require.Error(t, err)
}

func TestStoreCredentials(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := store.VerifyPassword(ctx, "alice", "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	hash, err := security.HashPassword("Dealer$hip2026")
	require.NoError(t, err)
	require.NoError(t, store.SetPasswordHash(ctx, "alice", hash))

	ok, err = store.VerifyPassword(ctx, "alice", "Dealer$hip2026")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.VerifyPassword(ctx, "alice", "dealer$hip2026")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteCredential(ctx, "alice"))
	require.ErrorIs(t, store.DeleteCredential(ctx, "alice"), ErrNotFound)
}

func TestStoreTrustedDevices(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()
	hash := device.FingerprintHash("workstation-7")

	require.NoError(t, store.TrustDevice(ctx, device.TrustedDevice{AccountID: "alice", FingerprintHash: hash, Label: "front desk", CreatedAt: time.Now()}))

	verdict, err := device.NewKnownDeviceEvaluator(store).Evaluate(ctx, "alice", &device.Signal{Fingerprint: "workstation-7"})
	require.NoError(t, err)
	assert.Equal(t, device.Trusted, verdict)

	list, err := store.ListDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "front desk", list[0].Label)

	require.NoError(t, store.RevokeDevice(ctx, "alice", hash))
	require.ErrorIs(t, store.RevokeDevice(ctx, "alice", hash), device.ErrNotFound)
	ok, err := store.IsTrustedDevice(ctx, "alice", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
