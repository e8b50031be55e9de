package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/admin_auth?sslmode=disable")
	t.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "admin-auth-service", cfg.ServiceName)
	assert.Equal(t, 8085, cfg.HTTPPort)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 1, cfg.TOTPSkewSteps)
	assert.Equal(t, 10*time.Minute, cfg.EnrollmentPendingTTL)
	assert.Equal(t, 3*time.Second, cfg.PasswordCheckTimeout)
	assert.Equal(t, 2*time.Second, cfg.DeviceCheckTimeout)
	assert.Equal(t, "audit.admin-auth", cfg.KafkaTopic)

	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoadMissingRequired(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "TOTP_ENCRYPTION_KEY"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: process env")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"short key", "TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)), "32 bytes"},
		{"not base64", "TOTP_ENCRYPTION_KEY", "%%%", "not valid base64"},
		{"skew too wide", "TOTP_SKEW_STEPS", "2", "TOTP_SKEW_STEPS"},
		{"issuer with colon", "TOTP_ISSUER", "Acme:Motors", "TOTP_ISSUER"},
		{"zero burst", "LOGIN_RATE_BURST", "0", "LOGIN_RATE_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
