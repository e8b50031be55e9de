package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

// VerifyPassword checks password against the stored argon2id hash. Unknown
// accounts verify as false, not as an error, after the same argon2id work.
func (s *Store) VerifyPassword(ctx context.Context, accountID, password string) (bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT password_hash FROM admin_credentials WHERE account_id = $1
	`, accountID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return security.VerifyMissing(password), nil
	}
	if err != nil {
		return false, fmt.Errorf("load credential: %w", err)
	}
	return security.VerifyPassword(password, hash)
}

// SetPasswordHash stores an encoded argon2id hash for the account.
func (s *Store) SetPasswordHash(ctx context.Context, accountID, hash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_credentials (account_id, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			updated_at = now()
	`, accountID, hash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	return nil
}

// DeleteCredential removes the account's credential.
func (s *Store) DeleteCredential(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
