// Package device evaluates the device-trust factor. A device is trusted when
// the sha256 of its fingerprint was previously registered for the account by
// an administrator.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// Verdict of a device-trust evaluation.
type Verdict string

const (
	Trusted   Verdict = "trusted"
	Untrusted Verdict = "untrusted"
)

// ErrNotFound is returned when removing a device that was never trusted.
var ErrNotFound = errors.New("device: not found")

// Signal describes the device presenting a login attempt.
type Signal struct {
	Fingerprint string `json:"fingerprint"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Evaluator decides whether a device is trusted for an account.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string, sig *Signal) (Verdict, error)
}

// TrustedDevice is a registered device.
type TrustedDevice struct {
	AccountID       string    `json:"account_id"`
	FingerprintHash string    `json:"fingerprint_sha256"`
	Label           string    `json:"label,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists trusted devices.
type Store interface {
	IsTrustedDevice(ctx context.Context, accountID, fingerprintHash string) (bool, error)
	TrustDevice(ctx context.Context, d TrustedDevice) error
	RevokeDevice(ctx context.Context, accountID, fingerprintHash string) error
	ListDevices(ctx context.Context, accountID string) ([]TrustedDevice, error)
}

// FingerprintHash is the hex sha256 of a trimmed fingerprint, or "" if the
// fingerprint is blank.
func FingerprintHash(fingerprint string) string {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// KnownDeviceEvaluator trusts devices present in a Store.
type KnownDeviceEvaluator struct {
	store Store
}

// NewKnownDeviceEvaluator creates an evaluator backed by store.
func NewKnownDeviceEvaluator(store Store) *KnownDeviceEvaluator {
	return &KnownDeviceEvaluator{store: store}
}

// Evaluate implements Evaluator. A missing signal or fingerprint is Untrusted.
func (e *KnownDeviceEvaluator) Evaluate(ctx context.Context, accountID string, sig *Signal) (Verdict, error) {
	if sig == nil {
		return Untrusted, nil
	}
	hash := FingerprintHash(sig.Fingerprint)
	if hash == "" {
		return Untrusted, nil
	}
	ok, err := e.store.IsTrustedDevice(ctx, accountID, hash)
	if err != nil {
		return Untrusted, err
	}
	if ok {
		return Trusted, nil
	}
	return Untrusted, nil
}

// MemoryStore keeps trusted devices in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]map[string]TrustedDevice
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]map[string]TrustedDevice)}
}

func (s *MemoryStore) IsTrustedDevice(_ context.Context, accountID, fingerprintHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[accountID][fingerprintHash]
	return ok, nil
}

func (s *MemoryStore) TrustDevice(_ context.Context, d TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHash, ok := s.devices[d.AccountID]
	if !ok {
		byHash = make(map[string]TrustedDevice)
		s.devices[d.AccountID] = byHash
	}
	byHash[d.FingerprintHash] = d
	return nil
}

func (s *MemoryStore) RevokeDevice(_ context.Context, accountID, fingerprintHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[accountID][fingerprintHash]; !ok {
		return ErrNotFound
	}
	delete(s.devices[accountID], fingerprintHash)
	return nil
}

func (s *MemoryStore) ListDevices(_ context.Context, accountID string) ([]TrustedDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrustedDevice, 0, len(s.devices[accountID]))
	for _, d := range s.devices[accountID] {
		out = append(out, d)
	}
	return out, nil
}

var (
	_ Evaluator = (*KnownDeviceEvaluator)(nil)
	_ Store     = (*MemoryStore)(nil)
)
