// Package security provides the cryptographic primitives behind administrator
// authentication: TOTP secrets and codes, sealing of secrets at rest, and
// verification of stored password hashes.
//
// Purpose:
//
//	This package implements RFC 6238 time-based one-time passwords (HMAC-SHA1,
//	30-second step, 6 digits) on top of pquerna/otp, the otpauth:// enrollment
//	URI format, and helpers for the credential adapters in internal/storage.
//
// Dependencies:
//   - github.com/pquerna/otp: HOTP/TOTP code generation and otpauth URI rendering
//   - golang.org/x/crypto: argon2id password hashing, XChaCha20-Poly1305 sealing
//
// Key Responsibilities:
//   - GenerateSecret / EncodeSecret / DecodeSecret / EncodeForEnrollment (secret codec)
//   - CurrentCode / Verify / MatchStep (TOTP engine, stateless)
//   - SecretSealer: authenticated encryption of persisted TOTP secrets
//   - HashPassword / VerifyPassword: argon2id encoded hashes
//
// Debugging Notes:
//   - Verify never returns an error; malformed codes and secrets simply fail
//   - Tolerance is clamped to MaxToleranceSteps so a caller cannot widen the window
//   - MatchStep returns the absolute step index used by the replay guard
//
// Thread Safety:
//   - All functions are pure; SecretSealer is safe for concurrent use
package security

import (
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// StepSeconds is the RFC 6238 time step.
	StepSeconds int64 = 30
	// CodeDigits is the length of generated codes.
	CodeDigits = 6
	// MaxToleranceSteps bounds clock-skew tolerance to the adjacent windows.
	MaxToleranceSteps = 1
)

var codeOpts = totp.ValidateOpts{
	Period:    uint(StepSeconds),
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// StepIndex returns floor(t / 30s).
func StepIndex(t time.Time) int64 {
	unix := t.Unix()
	step := unix / StepSeconds
	if unix < 0 && unix%StepSeconds != 0 {
		step--
	}
	return step
}

// CurrentCode returns the 6-digit code for the time step containing t.
func CurrentCode(secret []byte, t time.Time) (string, error) {
	return codeForStep(secret, StepIndex(t))
}

// Verify reports whether code matches any step within toleranceSteps of t.
func Verify(secret []byte, code string, t time.Time, toleranceSteps int) bool {
	_, ok := MatchStep(secret, code, t, toleranceSteps)
	return ok
}

// MatchStep is Verify that also returns the matched step index. The current
// step is tried first, then each offset outward.
func MatchStep(secret []byte, code string, t time.Time, toleranceSteps int) (int64, bool) {
	if len(secret) < minSecretSize || !wellFormedCode(code) {
		return 0, false
	}
	tolerance := clampTolerance(toleranceSteps)
	base := StepIndex(t)

	if matchesStep(secret, code, base) {
		return base, true
	}
	for k := int64(1); k <= int64(tolerance); k++ {
		if matchesStep(secret, code, base-k) {
			return base - k, true
		}
		if matchesStep(secret, code, base+k) {
			return base + k, true
		}
	}
	return 0, false
}

// ConsumedWindow is how long a matched code stays acceptable under the given
// tolerance, and so how long its step must be remembered as consumed.
func ConsumedWindow(toleranceSteps int) time.Duration {
	return time.Duration(2*clampTolerance(toleranceSteps)+1) * time.Duration(StepSeconds) * time.Second
}

func clampTolerance(toleranceSteps int) int {
	switch {
	case toleranceSteps < 0:
		return 0
	case toleranceSteps > MaxToleranceSteps:
		return MaxToleranceSteps
	default:
		return toleranceSteps
	}
}

func matchesStep(secret []byte, code string, step int64) bool {
	expected, err := codeForStep(secret, step)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1
}

func codeForStep(secret []byte, step int64) (string, error) {
	at := time.Unix(step*StepSeconds, 0).UTC()
	return totp.GenerateCodeCustom(EncodeSecret(secret), at, codeOpts)
}

func wellFormedCode(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
