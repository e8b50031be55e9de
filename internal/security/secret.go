package security

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// SecretSize is the length in bytes of generated TOTP secrets (160 bits, the HMAC-SHA1 block output).
	SecretSize = 20
	// minSecretSize rejects decoded secrets too short to be an RFC 4226 shared secret.
	minSecretSize = 10
)

var (
	// ErrInvalidLabel is returned when an account or issuer label cannot appear in an otpauth URI.
	ErrInvalidLabel = errors.New("security: invalid enrollment label")
	// ErrMalformedSecret is returned when an encoded secret cannot be decoded.
	ErrMalformedSecret = errors.New("security: malformed secret")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh random TOTP secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return secret, nil
}

// EncodeSecret renders a secret in the unpadded base32 form authenticator apps accept.
func EncodeSecret(secret []byte) string {
	return secretEncoding.EncodeToString(secret)
}

// DecodeSecret parses a base32 secret, ignoring case, whitespace and padding.
func DecodeSecret(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, encoded)
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, ErrMalformedSecret
	}

	secret, err := secretEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	if len(secret) < minSecretSize {
		return nil, fmt.Errorf("%w: %d bytes is below the minimum of %d", ErrMalformedSecret, len(secret), minSecretSize)
	}
	return secret, nil
}

// EncodeForEnrollment builds the otpauth:// URI shown to the user as a QR code.
// The output depends only on its inputs.
func EncodeForEnrollment(secret []byte, accountLabel, issuerLabel string) (string, error) {
	if err := validateLabel(accountLabel); err != nil {
		return "", fmt.Errorf("account label: %w", err)
	}
	if err := validateLabel(issuerLabel); err != nil {
		return "", fmt.Errorf("issuer label: %w", err)
	}
	if len(secret) < minSecretSize {
		return "", ErrMalformedSecret
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuerLabel,
		AccountName: accountLabel,
		Secret:      secret,
		Period:      uint(StepSeconds),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLabel, err)
	}
	return key.URL(), nil
}

// validateLabel rejects labels that would corrupt the "issuer:account" path segment.
func validateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return ErrInvalidLabel
	}
	if strings.ContainsRune(label, ':') {
		return ErrInvalidLabel
	}
	for _, r := range label {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return ErrInvalidLabel
		}
	}
	return nil
}
