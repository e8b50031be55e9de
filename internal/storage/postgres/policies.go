package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

// GetPolicy implements policy.Store.
func (s *Store) GetPolicy(ctx context.Context, accountID string) (policy.Policy, error) {
	var (
		factors []string
		p       policy.Policy
	)
	err := s.pool.QueryRow(ctx, `
		SELECT required_factors, max_attempts, lockout_duration_seconds, session_timeout_seconds
		FROM security_policies
		WHERE account_id = $1
	`, accountID).Scan(&factors, &p.MaxAttempts, &p.LockoutDurationSeconds, &p.SessionTimeoutSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.Policy{}, policy.ErrNotFound
	}
	if err != nil {
		return policy.Policy{}, fmt.Errorf("get policy: %w", err)
	}
	p.RequiredFactors, err = policy.ParseFactors(factors)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// PutPolicy implements policy.Store.
func (s *Store) PutPolicy(ctx context.Context, accountID string, p policy.Policy) error {
	factors := make([]string, 0, len(p.RequiredFactors))
	for _, f := range p.RequiredFactors {
		factors = append(factors, string(f))
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_policies (
			account_id, required_factors, max_attempts, lockout_duration_seconds, session_timeout_seconds
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			required_factors = EXCLUDED.required_factors,
			max_attempts = EXCLUDED.max_attempts,
			lockout_duration_seconds = EXCLUDED.lockout_duration_seconds,
			session_timeout_seconds = EXCLUDED.session_timeout_seconds,
			updated_at = now()
	`, accountID, factors, p.MaxAttempts, p.LockoutDurationSeconds, p.SessionTimeoutSeconds)
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

// DeletePolicy implements policy.Store.
func (s *Store) DeletePolicy(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM security_policies WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return policy.ErrNotFound
	}
	return nil
}
