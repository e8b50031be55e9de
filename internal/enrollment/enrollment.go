// Package enrollment runs the TOTP enrollment state machine:
//
//	NotConfigured -> PendingConfirmation -> Enabled
//
// with Reset returning to NotConfigured from any state.
//
// Pending secrets are held only in process memory and expire; only a secret
// whose first code was confirmed is written to the FactorStore. A restart
// therefore forgets every unconfirmed enrollment and the user starts over.
//
// Calls for the same account are serialized. Begin replaces any pending
// secret (last writer wins).
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/keylock"
	"github.com/otherjamesbrown/admin-auth-service/internal/metrics"
	"github.com/otherjamesbrown/admin-auth-service/internal/replay"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

// State of an account's TOTP factor.
type State string

const (
	StateNotConfigured       State = "not_configured"
	StatePendingConfirmation State = "pending_confirmation"
	StateEnabled             State = "enabled"
)

// ConfirmToleranceSteps is the skew accepted for the first code.
const ConfirmToleranceSteps = 1

// DefaultPendingTTL bounds how long an unconfirmed secret is kept.
const DefaultPendingTTL = 10 * time.Minute

var (
	// ErrNotFound is returned by FactorStore when no enabled factor exists.
	ErrNotFound = errors.New("enrollment: factor not found")
	// ErrInvalidConfirmationCode is returned when confirmation fails or nothing is pending.
	ErrInvalidConfirmationCode = errors.New("enrollment: invalid confirmation code")
	// ErrAlreadyEnrolled is returned by Begin when the factor is already enabled.
	ErrAlreadyEnrolled = errors.New("enrollment: factor already enabled")
	// ErrNotEnrolled is returned by EnabledSecret when no factor is enabled.
	ErrNotEnrolled = errors.New("enrollment: factor not enabled")
)

// Factor is a confirmed TOTP factor record.
type Factor struct {
	AccountID   string
	Secret      []byte
	CreatedAt   time.Time
	ConfirmedAt time.Time
}

// FactorStore persists confirmed factors only.
type FactorStore interface {
	GetFactor(ctx context.Context, accountID string) (Factor, error)
	SaveFactor(ctx context.Context, f Factor) error
	DeleteFactor(ctx context.Context, accountID string) error
}

// Challenge is what the user needs to configure an authenticator app.
type Challenge struct {
	URI           string    `json:"enrollment_uri"`
	SecretDisplay string    `json:"secret"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type pendingSecret struct {
	secret    []byte
	createdAt time.Time
	expiresAt time.Time
}

// Config configures a Manager.
type Config struct {
	Issuer     string
	PendingTTL time.Duration
	Now        func() time.Time
}

// Manager drives enrollment for all accounts.
type Manager struct {
	store  FactorStore
	guard  replay.Guard
	cfg    Config
	logger zerolog.Logger

	locks   keylock.Locker
	mu      sync.Mutex
	pending map[string]pendingSecret
}

// NewManager creates a Manager. guard may be nil, in which case confirmation
// codes are not marked consumed.
func NewManager(store FactorStore, guard replay.Guard, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:   store,
		guard:   guard,
		cfg:     cfg,
		logger:  logger.With().Str("component", "enrollment").Logger(),
		pending: make(map[string]pendingSecret),
	}
}

// Begin starts (or restarts) enrollment and returns the challenge.
func (m *Manager) Begin(ctx context.Context, accountID string) (Challenge, error) {
	unlock := m.locks.Lock(accountID)
	defer unlock()

	enabled, err := m.enabled(ctx, accountID)
	if err != nil {
		return Challenge{}, err
	}
	if enabled {
		return Challenge{}, ErrAlreadyEnrolled
	}

	secret, err := security.GenerateSecret()
	if err != nil {
		return Challenge{}, err
	}
	uri, err := security.EncodeForEnrollment(secret, accountID, m.cfg.Issuer)
	if err != nil {
		return Challenge{}, err
	}

	now := m.cfg.Now()
	p := pendingSecret{secret: secret, createdAt: now, expiresAt: now.Add(m.cfg.PendingTTL)}
	m.mu.Lock()
	_, replaced := m.pending[accountID]
	m.pending[accountID] = p
	m.mu.Unlock()

	metrics.RecordEnrollment("begin")
	m.logger.Info().Str("account_id", accountID).Bool("replaced_pending", replaced).Msg("enrollment started")

	return Challenge{
		URI:           uri,
		SecretDisplay: security.EncodeSecret(secret),
		ExpiresAt:     p.expiresAt,
	}, nil
}

// Confirm checks the first code against the pending secret and enables the
// factor on success. On failure the pending secret is kept for a retry.
func (m *Manager) Confirm(ctx context.Context, accountID, code string) (State, error) {
	unlock := m.locks.Lock(accountID)
	defer unlock()

	now := m.cfg.Now()
	p, ok := m.takePending(accountID, now, false)
	if !ok {
		metrics.RecordEnrollment("reject")
		enabled, err := m.enabled(ctx, accountID)
		if err != nil {
			return "", err
		}
		if enabled {
			return StateEnabled, ErrInvalidConfirmationCode
		}
		return StateNotConfigured, ErrInvalidConfirmationCode
	}

	step, ok := security.MatchStep(p.secret, code, now, ConfirmToleranceSteps)
	if !ok {
		metrics.RecordEnrollment("reject")
		m.logger.Info().Str("account_id", accountID).Msg("enrollment confirmation rejected")
		return StatePendingConfirmation, ErrInvalidConfirmationCode
	}

	if m.guard != nil {
		if _, err := m.guard.Consume(ctx, accountID, step, security.ConsumedWindow(ConfirmToleranceSteps)); err != nil {
			return StatePendingConfirmation, fmt.Errorf("enrollment: consume code: %w", err)
		}
	}

	f := Factor{AccountID: accountID, Secret: p.secret, CreatedAt: p.createdAt, ConfirmedAt: now}
	if err := m.store.SaveFactor(ctx, f); err != nil {
		return StatePendingConfirmation, fmt.Errorf("enrollment: save factor: %w", err)
	}
	m.takePending(accountID, now, true)

	metrics.RecordEnrollment("confirm")
	m.logger.Info().Str("account_id", accountID).Msg("totp factor enabled")
	return StateEnabled, nil
}

// State reports the account's enrollment state.
func (m *Manager) State(ctx context.Context, accountID string) (State, error) {
	if _, ok := m.takePending(accountID, m.cfg.Now(), false); ok {
		return StatePendingConfirmation, nil
	}
	enabled, err := m.enabled(ctx, accountID)
	if err != nil {
		return "", err
	}
	if enabled {
		return StateEnabled, nil
	}
	return StateNotConfigured, nil
}

// EnabledSecret returns the confirmed secret, or ErrNotEnrolled.
func (m *Manager) EnabledSecret(ctx context.Context, accountID string) ([]byte, error) {
	f, err := m.store.GetFactor(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("enrollment: load factor: %w", err)
	}
	return f.Secret, nil
}

// Reset discards the pending secret and the enabled factor.
func (m *Manager) Reset(ctx context.Context, accountID string) error {
	unlock := m.locks.Lock(accountID)
	defer unlock()

	m.mu.Lock()
	delete(m.pending, accountID)
	m.mu.Unlock()

	if err := m.store.DeleteFactor(ctx, accountID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("enrollment: delete factor: %w", err)
	}
	metrics.RecordEnrollment("reset")
	m.logger.Warn().Str("account_id", accountID).Msg("totp factor reset")
	return nil
}

func (m *Manager) enabled(ctx context.Context, accountID string) (bool, error) {
	_, err := m.store.GetFactor(ctx, accountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("enrollment: load factor: %w", err)
	default:
		return true, nil
	}
}

// takePending returns the live pending secret, dropping it if expired or if
// remove is set.
func (m *Manager) takePending(accountID string, now time.Time, remove bool) (pendingSecret, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[accountID]
	if !ok {
		return pendingSecret{}, false
	}
	if !now.Before(p.expiresAt) {
		delete(m.pending, accountID)
		return pendingSecret{}, false
	}
	if remove {
		delete(m.pending, accountID)
	}
	return p, true
}
