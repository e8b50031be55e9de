package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	saltLen             = 16
	argonVersion        = 19
)

// ErrUnsupportedHash is returned for stored hashes that are not argon2id v19.
var ErrUnsupportedHash = errors.New("security: unsupported password hash")

type argonHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// HashPassword derives an Argon2id hash in the encoding used by the credential table:
// argon2id$v=19$t=..$m=..$p=..$<salt>$<key>.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	h := argonHash{time: argonTime, memory: argonMemory, threads: argonThreads, salt: salt}
	h.key = argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, argonKeyLen)
	return h.encode(), nil
}

// VerifyPassword compares a plaintext password with a stored Argon2id hash.
func VerifyPassword(password, encodedHash string) (bool, error) {
	h, err := parseArgonHash(encodedHash)
	if err != nil {
		return false, err
	}
	actual := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(actual, h.key) == 1, nil
}

// missingCredential has the parameters HashPassword uses, so checking against
// it costs the same as checking a real credential.
var missingCredential = sync.OnceValue(func() argonHash {
	return argonHash{
		time:    argonTime,
		memory:  argonMemory,
		threads: argonThreads,
		salt:    []byte("admin-auth:none!"),
		key:     make([]byte, argonKeyLen),
	}
})

// VerifyMissing does the work of VerifyPassword for an account that has no
// stored credential and always reports false.
func VerifyMissing(password string) bool {
	h := missingCredential()
	actual := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	_ = subtle.ConstantTimeCompare(actual, h.key)
	return false
}

func (h argonHash) encode() string {
	return fmt.Sprintf("argon2id$v=%d$t=%d$m=%d$p=%d$%s$%s",
		argonVersion, h.time, h.memory, h.threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func parseArgonHash(encoded string) (argonHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 7 || parts[0] != "argon2id" {
		return argonHash{}, fmt.Errorf("%w: unexpected format", ErrUnsupportedHash)
	}
	version, err := parseParam(parts[1], "v=", 32)
	if err != nil {
		return argonHash{}, err
	}
	if version != argonVersion {
		return argonHash{}, fmt.Errorf("%w: version %d", ErrUnsupportedHash, version)
	}
	t, err := parseParam(parts[2], "t=", 32)
	if err != nil {
		return argonHash{}, err
	}
	m, err := parseParam(parts[3], "m=", 32)
	if err != nil {
		return argonHash{}, err
	}
	p, err := parseParam(parts[4], "p=", 8)
	if err != nil {
		return argonHash{}, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonHash{}, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[6])
	if err != nil {
		return argonHash{}, fmt.Errorf("decode hash: %w", err)
	}
	return argonHash{time: uint32(t), memory: uint32(m), threads: uint8(p), salt: salt, key: key}, nil
}

func parseParam(field, prefix string, bits int) (uint64, error) {
	if !strings.HasPrefix(field, prefix) {
		return 0, fmt.Errorf("%w: missing %q", ErrUnsupportedHash, prefix)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(field, prefix), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("parse argon hash %s: %w", strings.TrimSuffix(prefix, "="), err)
	}
	return v, nil
}
