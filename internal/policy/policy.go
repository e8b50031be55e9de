// Package policy holds the per-account security policy: which factors an
// administrator must present, how many consecutive failures trigger a lockout,
// how long the lockout lasts, and how long an issued session lives.
//
// Purpose:
//
//	Policies are read on every login attempt and written only by administrative
//	actions. Service fronts a durable Store with an explicit keyed Cache so reads
//	stay cheap and writes invalidate deterministically.
//
// Key Responsibilities:
//   - Policy / Factor types and validation (password is always required)
//   - Default(): the policy an account without configuration receives
//   - Service.Get / Put / Delete with cache read-through and invalidation
//
// Thread Safety:
//   - Service is safe for concurrent use if its Store and Cache are
//
// Error Handling:
//   - Store.GetPolicy returns ErrNotFound for unconfigured accounts; Service.Get
//     turns that into Default(), never into an empty policy
//   - Put returns ErrInvalidPolicy (wrapped) for policies that violate the invariants
package policy

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Factor is one independent credential type.
type Factor string

const (
	FactorPassword    Factor = "password"
	FactorTOTP        Factor = "totp"
	FactorDeviceTrust Factor = "device_trust"
)

// Defaults applied when an account has no explicit policy.
const (
	DefaultMaxAttempts            = 5
	DefaultLockoutDurationSeconds = 1800
	DefaultSessionTimeoutSeconds  = 28800
)

var (
	// ErrNotFound is returned by stores when no policy exists for the account.
	ErrNotFound = errors.New("policy: not found")
	// ErrInvalidPolicy is returned for policies that break the policy invariants.
	ErrInvalidPolicy = errors.New("policy: invalid policy")
)

// Policy is the security configuration of one administrator account.
type Policy struct {
	RequiredFactors        []Factor `json:"required_factors"`
	MaxAttempts            int      `json:"max_attempts"`
	LockoutDurationSeconds int      `json:"lockout_duration_seconds"`
	SessionTimeoutSeconds  int      `json:"session_timeout_seconds"`
}

// Default returns the policy for accounts without explicit configuration.
func Default() Policy {
	return Policy{
		RequiredFactors:        []Factor{FactorPassword},
		MaxAttempts:            DefaultMaxAttempts,
		LockoutDurationSeconds: DefaultLockoutDurationSeconds,
		SessionTimeoutSeconds:  DefaultSessionTimeoutSeconds,
	}
}

// Requires reports whether f is one of the required factors.
func (p Policy) Requires(f Factor) bool {
	for _, rf := range p.RequiredFactors {
		if rf == f {
			return true
		}
	}
	return false
}

// LockoutDuration is LockoutDurationSeconds as a time.Duration.
func (p Policy) LockoutDuration() time.Duration {
	return time.Duration(p.LockoutDurationSeconds) * time.Second
}

// SessionTimeout is SessionTimeoutSeconds as a time.Duration.
func (p Policy) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutSeconds) * time.Second
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if len(p.RequiredFactors) == 0 {
		return fmt.Errorf("%w: required factors must not be empty", ErrInvalidPolicy)
	}
	for _, f := range p.RequiredFactors {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown factor %q", ErrInvalidPolicy, f)
		}
	}
	if !p.Requires(FactorPassword) {
		return fmt.Errorf("%w: password must always be required", ErrInvalidPolicy)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidPolicy)
	}
	if p.LockoutDurationSeconds < 0 {
		return fmt.Errorf("%w: lockout duration must not be negative", ErrInvalidPolicy)
	}
	if p.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Normalized returns a copy with required factors deduplicated and sorted.
func (p Policy) Normalized() Policy {
	seen := make(map[Factor]struct{}, len(p.RequiredFactors))
	factors := make([]Factor, 0, len(p.RequiredFactors))
	for _, f := range p.RequiredFactors {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		factors = append(factors, f)
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].order() < factors[j].order() })
	p.RequiredFactors = factors
	return p
}

// Valid reports whether f is a known factor.
func (f Factor) Valid() bool {
	return f.order() < 3
}

// ParseFactors converts strings into factors, rejecting unknown names.
func ParseFactors(names []string) ([]Factor, error) {
	factors := make([]Factor, 0, len(names))
	for _, name := range names {
		f := Factor(name)
		if !f.Valid() {
			return nil, fmt.Errorf("%w: unknown factor %q", ErrInvalidPolicy, name)
		}
		factors = append(factors, f)
	}
	return factors, nil
}

// order is the evaluation order of the factors.
func (f Factor) order() int {
	switch f {
	case FactorPassword:
		return 0
	case FactorTOTP:
		return 1
	case FactorDeviceTrust:
		return 2
	default:
		return 3
	}
}
