package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
)

// LoadCounter implements governor.CounterStore. Unknown accounts have a zero counter.
func (s *Store) LoadCounter(ctx context.Context, accountID string) (governor.Counter, error) {
	c, err := scanCounter(s.pool.QueryRow(ctx, `
		SELECT consecutive_failures, locked_until
		FROM attempt_counters
		WHERE account_id = $1
	`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return governor.Counter{}, nil
	}
	if err != nil {
		return governor.Counter{}, fmt.Errorf("load counter: %w", err)
	}
	return c, nil
}

// RecordFailures implements governor.CounterStore. The row lock serializes
// concurrent failures for the same account across every service instance.
func (s *Store) RecordFailures(ctx context.Context, accountID string, now time.Time, n, maxAttempts int, lockout time.Duration) (governor.Counter, bool, error) {
	var (
		next      governor.Counter
		lockedNow bool
	)
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attempt_counters (account_id) VALUES ($1)
			ON CONFLICT (account_id) DO NOTHING
		`, accountID); err != nil {
			return err
		}

		current, err := scanCounter(tx.QueryRow(ctx, `
			SELECT consecutive_failures, locked_until
			FROM attempt_counters
			WHERE account_id = $1
			FOR UPDATE
		`, accountID))
		if err != nil {
			return err
		}

		next, lockedNow = current.ApplyFailures(now, n, maxAttempts, lockout)
		_, err = tx.Exec(ctx, `
			UPDATE attempt_counters
			SET consecutive_failures = $2, locked_until = $3, updated_at = now()
			WHERE account_id = $1
		`, accountID, next.ConsecutiveFailures, next.LockedUntil)
		return err
	})
	if err != nil {
		return governor.Counter{}, false, fmt.Errorf("record failure: %w", err)
	}
	return next, lockedNow, nil
}

// ClearUnlessLocked implements governor.CounterStore. Rows are zeroed rather
// than deleted so a concurrent RecordFailures waiting on the row lock still
// finds it.
func (s *Store) ClearUnlessLocked(ctx context.Context, accountID string, now time.Time) (governor.Counter, bool, error) {
	var (
		current governor.Counter
		cleared bool
	)
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		c, err := scanCounter(tx.QueryRow(ctx, `
			SELECT consecutive_failures, locked_until
			FROM attempt_counters
			WHERE account_id = $1
			FOR UPDATE
		`, accountID))
		if errors.Is(err, pgx.ErrNoRows) {
			cleared = true
			return nil
		}
		if err != nil {
			return err
		}
		current = c
		if c.LockedAt(now) {
			return nil
		}
		cleared = true
		_, err = tx.Exec(ctx, zeroCounterSQL, accountID)
		return err
	})
	if err != nil {
		return governor.Counter{}, false, fmt.Errorf("clear counter: %w", err)
	}
	return current, cleared, nil
}

// ResetCounter implements governor.CounterStore.
func (s *Store) ResetCounter(ctx context.Context, accountID string) error {
	if _, err := s.pool.Exec(ctx, zeroCounterSQL, accountID); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	return nil
}

const zeroCounterSQL = `
	UPDATE attempt_counters
	SET consecutive_failures = 0, locked_until = NULL, updated_at = now()
	WHERE account_id = $1
`

func scanCounter(row pgx.Row) (governor.Counter, error) {
	var (
		c           governor.Counter
		lockedUntil *time.Time
	)
	if err := row.Scan(&c.ConsecutiveFailures, &lockedUntil); err != nil {
		return governor.Counter{}, err
	}
	if lockedUntil != nil {
		utc := lockedUntil.UTC()
		c.LockedUntil = &utc
	}
	return c, nil
}
