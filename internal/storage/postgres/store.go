// Package postgres is the durable persistence layer of the admin auth service.
//
// Purpose:
//
//	One Store satisfies every persistence contract of the core: policy.Store,
//	enrollment.FactorStore, governor.CounterStore, audit.Recorder/Lister,
//	device.Store, plus the reference credential verifier. Schema lives in
//	migrations/sql and is applied with goose.
//
// Dependencies:
//   - github.com/jackc/pgx/v5 (pgxpool): connection pool and queries
//   - internal/security: SecretSealer for TOTP secrets at rest, argon2id verification
//
// Key Responsibilities:
//   - Policies: upsert / read / delete
//   - TOTP factors: sealed with the account id as associated data
//   - Attempt counters: RecordFailures and ClearUnlessLocked run SELECT ... FOR UPDATE in a transaction
//   - Audit entries: append-only (a trigger rejects UPDATE and DELETE)
//   - Credentials and trusted devices
//
// Debugging Notes:
//   - Timestamps are read back in UTC so audit hashes still verify
//   - Factor methods fail with ErrSealerRequired when no sealer was configured
//
// Thread Safety:
//   - Store is safe for concurrent use (pgxpool is)
//
// Error Handling:
//   - pgx.ErrNoRows is mapped onto the owning package's ErrNotFound
//   - Audit write errors are wrapped with audit.ErrWriteFailure
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

// Store provides Postgres-backed persistence for the admin auth service.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
	sealer   *security.SecretSealer
}

// Option configures a Store.
type Option func(*Store)

// WithSecretSealer enables TOTP factor persistence.
func WithSecretSealer(sealer *security.SecretSealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// NewStore creates a store using the provided connection string and takes ownership of the pool.
func NewStore(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	s := &Store{pool: pool, ownsPool: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewStoreFromPool wraps an existing pgx pool.
func NewStoreFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying pool if the store owns it.
func (s *Store) Close() {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pgx pool (readiness probes).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}
