package postgres

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/admin-auth-service/internal/device"
)

// IsTrustedDevice implements device.Store.
func (s *Store) IsTrustedDevice(ctx context.Context, accountID, fingerprintHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trusted_devices WHERE account_id = $1 AND fingerprint_hash = $2
		)
	`, accountID, fingerprintHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trusted device: %w", err)
	}
	return exists, nil
}

// TrustDevice implements device.Store. Re-trusting a device updates its label.
func (s *Store) TrustDevice(ctx context.Context, d device.TrustedDevice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trusted_devices (account_id, fingerprint_hash, label, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, fingerprint_hash) DO UPDATE SET label = EXCLUDED.label
	`, d.AccountID, d.FingerprintHash, d.Label, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("trust device: %w", err)
	}
	return nil
}

// RevokeDevice implements device.Store.
func (s *Store) RevokeDevice(ctx context.Context, accountID, fingerprintHash string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM trusted_devices WHERE account_id = $1 AND fingerprint_hash = $2
	`, accountID, fingerprintHash)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return device.ErrNotFound
	}
	return nil
}

// ListDevices implements device.Store.
func (s *Store) ListDevices(ctx context.Context, accountID string) ([]device.TrustedDevice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, fingerprint_hash, label, created_at
		FROM trusted_devices
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	out := []device.TrustedDevice{}
	for rows.Next() {
		var d device.TrustedDevice
		if err := rows.Scan(&d.AccountID, &d.FingerprintHash, &d.Label, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}
