package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
)

// ConfirmStatus is the result of ConfirmEnrollment.
type ConfirmStatus string

const (
	ConfirmEnabled  ConfirmStatus = "enabled"
	ConfirmRejected ConfirmStatus = "rejected"
)

// SecurityStatus summarizes an account's authentication posture.
type SecurityStatus struct {
	AccountID           string           `json:"account_id"`
	RequiredFactors     []policy.Factor  `json:"required_factors"`
	TOTPState           enrollment.State `json:"totp_state"`
	LockedUntil         *time.Time       `json:"locked_until,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// StartEnrollment begins TOTP enrollment for the account.
func (s *Service) StartEnrollment(ctx context.Context, accountID string) (enrollment.Challenge, error) {
	return s.enrollment.Begin(ctx, accountID)
}

// ConfirmEnrollment confirms the first code. A wrong code, or no pending
// enrollment, is ConfirmRejected with a nil error.
func (s *Service) ConfirmEnrollment(ctx context.Context, accountID, code string) (ConfirmStatus, error) {
	_, err := s.enrollment.Confirm(ctx, accountID, strings.TrimSpace(code))
	switch {
	case errors.Is(err, enrollment.ErrInvalidConfirmationCode):
		return ConfirmRejected, nil
	case err != nil:
		return ConfirmRejected, err
	default:
		return ConfirmEnabled, nil
	}
}

// GetSecurityStatus reports required factors, TOTP state and any active lock.
func (s *Service) GetSecurityStatus(ctx context.Context, accountID string) (SecurityStatus, error) {
	p, err := s.policies.Get(ctx, accountID)
	if err != nil {
		return SecurityStatus{}, err
	}
	state, err := s.enrollment.State(ctx, accountID)
	if err != nil {
		return SecurityStatus{}, err
	}
	lock, err := s.governor.CheckLockout(ctx, accountID)
	if err != nil {
		return SecurityStatus{}, err
	}
	return SecurityStatus{
		AccountID:           accountID,
		RequiredFactors:     p.Normalized().RequiredFactors,
		TOTPState:           state,
		LockedUntil:         lock.LockedUntil,
		ConsecutiveFailures: lock.ConsecutiveFailures,
	}, nil
}

// GetPolicy returns the effective policy.
func (s *Service) GetPolicy(ctx context.Context, accountID string) (policy.Policy, error) {
	return s.policies.Get(ctx, accountID)
}

// SetPolicy validates and stores an explicit policy.
func (s *Service) SetPolicy(ctx context.Context, accountID string, p policy.Policy) (policy.Policy, error) {
	return s.policies.Put(ctx, accountID, p)
}

// ResetPolicy reverts the account to the default policy.
func (s *Service) ResetPolicy(ctx context.Context, accountID string) error {
	return s.policies.Delete(ctx, accountID)
}

// ResetTOTP removes the TOTP factor and revokes every session of the account.
func (s *Service) ResetTOTP(ctx context.Context, accountID string) (int, error) {
	if err := s.enrollment.Reset(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.logger.Warn().Str("account_id", accountID).Int("sessions_revoked", n).Msg("totp reset")
	return n, nil
}

// Unlock clears the attempt counter and any active lock.
func (s *Service) Unlock(ctx context.Context, accountID string) error {
	return s.governor.Unlock(ctx, accountID)
}

// ValidateSession returns the live session behind token.
func (s *Service) ValidateSession(ctx context.Context, token string) (session.Session, error) {
	return s.sessions.Validate(ctx, token)
}

// Logout revokes the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// RevokeSessions revokes every session of the account.
func (s *Service) RevokeSessions(ctx context.Context, accountID string) (int, error) {
	return s.sessions.RevokeAccount(ctx, accountID)
}

// TrustDevice registers a device fingerprint for the account.
func (s *Service) TrustDevice(ctx context.Context, accountID, fingerprint, label string) (device.TrustedDevice, error) {
	hash := device.FingerprintHash(fingerprint)
	if hash == "" {
		return device.TrustedDevice{}, ErrFingerprintRequired
	}
	d := device.TrustedDevice{
		AccountID:       accountID,
		FingerprintHash: hash,
		Label:           label,
		CreatedAt:       s.cfg.Now().UTC(),
	}
	if err := s.deviceStore.TrustDevice(ctx, d); err != nil {
		return device.TrustedDevice{}, err
	}
	s.logger.Info().Str("account_id", accountID).Str("device_hash", hash).Msg("device trusted")
	return d, nil
}

// RevokeDevice removes a trusted device by fingerprint hash.
func (s *Service) RevokeDevice(ctx context.Context, accountID, fingerprintHash string) error {
	return s.deviceStore.RevokeDevice(ctx, accountID, fingerprintHash)
}

// ListDevices returns the account's trusted devices.
func (s *Service) ListDevices(ctx context.Context, accountID string) ([]device.TrustedDevice, error) {
	return s.deviceStore.ListDevices(ctx, accountID)
}

// ListAudit returns the newest audit entries of the account.
func (s *Service) ListAudit(ctx context.Context, accountID string, limit int) ([]audit.Entry, error) {
	if s.auditLister == nil {
		return nil, ErrAuditListingUnavailable
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.auditLister.ListEntries(ctx, accountID, limit)
}
