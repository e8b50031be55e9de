package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
)

// GetFactor implements enrollment.FactorStore.
func (s *Store) GetFactor(ctx context.Context, accountID string) (enrollment.Factor, error) {
	if s.sealer == nil {
		return enrollment.Factor{}, ErrSealerRequired
	}
	var (
		sealed                 []byte
		createdAt, confirmedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT sealed_secret, created_at, confirmed_at
		FROM totp_factors
		WHERE account_id = $1
	`, accountID).Scan(&sealed, &createdAt, &confirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return enrollment.Factor{}, enrollment.ErrNotFound
	}
	if err != nil {
		return enrollment.Factor{}, fmt.Errorf("get factor: %w", err)
	}

	secret, err := s.sealer.Open(accountID, sealed)
	if err != nil {
		return enrollment.Factor{}, fmt.Errorf("get factor: %w", err)
	}
	return enrollment.Factor{
		AccountID:   accountID,
		Secret:      secret,
		CreatedAt:   createdAt.UTC(),
		ConfirmedAt: confirmedAt.UTC(),
	}, nil
}

// SaveFactor implements enrollment.FactorStore. An existing factor is replaced.
func (s *Store) SaveFactor(ctx context.Context, f enrollment.Factor) error {
	if s.sealer == nil {
		return ErrSealerRequired
	}
	sealed, err := s.sealer.Seal(f.AccountID, f.Secret)
	if err != nil {
		return fmt.Errorf("save factor: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO totp_factors (account_id, sealed_secret, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			sealed_secret = EXCLUDED.sealed_secret,
			created_at = EXCLUDED.created_at,
			confirmed_at = EXCLUDED.confirmed_at
	`, f.AccountID, sealed, f.CreatedAt, f.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("save factor: %w", err)
	}
	return nil
}

// DeleteFactor implements enrollment.FactorStore.
func (s *Store) DeleteFactor(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM totp_factors WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("delete factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return enrollment.ErrNotFound
	}
	return nil
}
