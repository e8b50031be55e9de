// Package session issues and tracks administrator sessions created by a
// successful login. Callers hold an opaque bearer token; stores only ever see
// its sha256, so a leaked store does not leak usable tokens.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/admin-auth-service/internal/metrics"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

const tokenBytes = 32

var (
	// ErrNotFound is returned for unknown, revoked or expired tokens.
	ErrNotFound = errors.New("session: not found")
	// ErrInvalidTimeout is returned when asked to issue a session with no lifetime.
	ErrInvalidTimeout = errors.New("session: timeout must be positive")
)

// Session is an authenticated administrator session.
type Session struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	IssuedAt         time.Time       `json:"issued_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	FactorsSatisfied []policy.Factor `json:"factors_satisfied"`
}

// Store persists sessions by token hash. Save must expire the session at
// s.ExpiresAt; Get must never return an expired session.
type Store interface {
	Save(ctx context.Context, tokenHash string, s Session) error
	Get(ctx context.Context, tokenHash string) (Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteAccount(ctx context.Context, accountID string) (int, error)
}

// Manager issues, validates and revokes sessions.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a manager. now may be nil.
func NewManager(store Store, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, now: now}
}

// Issue creates a session lasting timeout and returns its bearer token.
func (m *Manager) Issue(ctx context.Context, accountID string, factors []policy.Factor, timeout time.Duration) (string, Session, error) {
	if timeout <= 0 {
		return "", Session{}, ErrInvalidTimeout
	}
	token, err := newToken()
	if err != nil {
		return "", Session{}, err
	}
	issued := m.now().UTC()
	s := Session{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		IssuedAt:         issued,
		ExpiresAt:        issued.Add(timeout),
		FactorsSatisfied: append([]policy.Factor(nil), factors...),
	}
	if err := m.store.Save(ctx, HashToken(token), s); err != nil {
		return "", Session{}, fmt.Errorf("session: save: %w", err)
	}
	metrics.RecordSessionCreated()
	return token, s, nil
}

// Validate returns the live session for token.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	s, err := m.store.Get(ctx, HashToken(token))
	if err != nil {
		return Session{}, err
	}
	if !m.now().Before(s.ExpiresAt) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Revoke destroys the session behind token.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	metrics.RecordSessionRevoked()
	return nil
}

// RevokeAccount destroys every session of an account.
func (m *Manager) RevokeAccount(ctx context.Context, accountID string) (int, error) {
	n, err := m.store.DeleteAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("session: revoke account: %w", err)
	}
	for i := 0; i < n; i++ {
		metrics.RecordSessionRevoked()
	}
	return n, nil
}

// HashToken is the store key for a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
