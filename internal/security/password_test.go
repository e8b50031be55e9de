package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret!")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	ok, err := VerifyPassword("Sup3rSecret!", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("WrongPassword", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyPasswordRejectsForeignHashes(t *testing.T) {
	for _, stored := range []string{
		"",
		"$2a$10$abcdefghijklmnopqrstuv",
		"argon2i$v=19$t=1$m=65536$p=4$c2FsdA$aGFzaA",
		"argon2id$v=16$t=1$m=65536$p=4$c2FsdA$aGFzaA",
	} {
		_, err := VerifyPassword("whatever", stored)
		require.ErrorIs(t, err, ErrUnsupportedHash, "stored %q", stored)
	}
}

func TestVerifyMissingMatchesHashCost(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret!")
	require.NoError(t, err)
	stored, err := parseArgonHash(hash)
	require.NoError(t, err)

	missing := missingCredential()
	require.Equal(t, stored.time, missing.time)
	require.Equal(t, stored.memory, missing.memory)
	require.Equal(t, stored.threads, missing.threads)
	require.Len(t, missing.salt, len(stored.salt))
	require.Len(t, missing.key, len(stored.key))

	for _, pw := range []string{"", "Sup3rSecret!", "anything"} {
		require.False(t, VerifyMissing(pw))
	}
}

func TestHashPasswordEmpty(t *testing.T) {
	_, err := HashPassword("")
	require.Error(t, err)
}
