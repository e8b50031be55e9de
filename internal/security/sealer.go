package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedSecretCorrupt is returned when a stored secret fails authentication.
var ErrSealedSecretCorrupt = errors.New("security: sealed secret corrupt")

// SecretSealer encrypts TOTP secrets before they reach storage. The account id
// is bound as associated data so a sealed secret cannot be moved between accounts.
type SecretSealer struct {
	aead cipher.AEAD
}

// NewSecretSealer builds a sealer from a 32-byte key.
func NewSecretSealer(key []byte) (*SecretSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret sealer: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret sealer: %w", err)
	}
	return &SecretSealer{aead: aead}, nil
}

// NewSecretSealerFromBase64 decodes a standard base64 key, as carried in configuration.
func NewSecretSealerFromBase64(encoded string) (*SecretSealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret sealer: decode key: %w", err)
	}
	return NewSecretSealer(key)
}

// Seal returns nonce || ciphertext.
func (s *SecretSealer) Seal(accountID string, secret []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(secret)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret sealer: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, secret, []byte(accountID)), nil
}

// Open reverses Seal.
func (s *SecretSealer) Open(accountID string, sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrSealedSecretCorrupt
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	secret, err := s.aead.Open(nil, nonce, ciphertext, []byte(accountID))
	if err != nil {
		return nil, ErrSealedSecretCorrupt
	}
	return secret, nil
}
