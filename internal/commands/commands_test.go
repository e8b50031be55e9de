package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi/apitest"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

func run(t *testing.T, env *apitest.Env, stdin string, args ...string) (string, error) {
	t.Helper()
	loader := func(context.Context) (*bootstrap.Runtime, error) { return env.Runtime, nil }
	root := NewRootCommand(loader, "test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(testContext(t))
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var cliErr *CLIError
	require.True(t, errors.As(err, &cliErr), "expected CLIError, got %v", err)
	return cliErr.ExitCode
}

func TestPolicySetOverlaysChangedFlags(t *testing.T) {
	env := apitest.New(t, 100, 100)

	_, err := run(t, env, "", "policy", "set", "alice", "--factors", "password, totp", "--lockout", "15m")
	require.NoError(t, err)

	out, err := run(t, env, "", "policy", "get", "alice", "--format", "json")
	require.NoError(t, err)
	var got policy.Policy
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []policy.Factor{policy.FactorPassword, policy.FactorTOTP}, got.RequiredFactors)
	assert.Equal(t, 900, got.LockoutDurationSeconds)
	assert.Equal(t, policy.DefaultMaxAttempts, got.MaxAttempts)
	assert.Equal(t, policy.DefaultSessionTimeoutSeconds, got.SessionTimeoutSeconds)
}

func TestPolicySetRejectsInvalidPolicy(t *testing.T) {
	env := apitest.New(t, 100, 100)

	_, err := run(t, env, "", "policy", "set", "alice", "--factors", "totp")
	assert.Equal(t, ExitUsage, exitCode(t, err))

	_, err = run(t, env, "", "policy", "set", "alice", "--factors", "password,sms")
	assert.Equal(t, ExitUsage, exitCode(t, err))

	p, err := env.Runtime.Auth.GetPolicy(testContext(t), "alice")
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)
}

func TestPolicyResetAndTable(t *testing.T) {
	env := apitest.New(t, 100, 100)
	_, err := run(t, env, "", "policy", "set", "alice", "--max-attempts", "2")
	require.NoError(t, err)

	out, err := run(t, env, "", "policy", "reset", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "reset to default")

	out, err = run(t, env, "", "policy", "get", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "MAX ATTEMPTS")
	assert.Contains(t, out, "alice")
}

func TestStatusAndUnlock(t *testing.T) {
	env := apitest.New(t, 100, 100)
	env.Credentials.Set("alice", "s3cret")
	_, err := env.Runtime.Auth.SetPolicy(testContext(t), "alice", policy.Policy{
		RequiredFactors:        []policy.Factor{policy.FactorPassword},
		MaxAttempts:            1,
		LockoutDurationSeconds: 600,
		SessionTimeoutSeconds:  600,
	})
	require.NoError(t, err)
	_, err = env.Runtime.Auth.Authenticate(testContext(t), auth.Request{AccountID: "alice", Password: "nope"})
	require.NoError(t, err)

	out, err := run(t, env, "", "status", "alice", "--format", "json")
	require.NoError(t, err)
	var status auth.SecurityStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.LockedUntil)

	_, err = run(t, env, "", "unlock", "alice")
	require.NoError(t, err)

	out, err = run(t, env, "", "status", "alice")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"alice", "password", "not_configured", "0", "-"}, strings.Fields(lines[1]))
}

func TestDeviceCommands(t *testing.T) {
	env := apitest.New(t, 100, 100)
	hash := device.FingerprintHash("kiosk-7")

	out, err := run(t, env, "", "device", "trust", "alice", "kiosk-7", "--label", "showroom")
	require.NoError(t, err)
	assert.Contains(t, out, hash)

	out, err = run(t, env, "", "device", "list", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, hash)
	assert.Contains(t, out, "showroom")

	_, err = run(t, env, "", "device", "revoke", "alice", hash)
	require.NoError(t, err)
	_, err = run(t, env, "", "device", "revoke", "alice", hash)
	assert.Equal(t, ExitUsage, exitCode(t, err))

	_, err = run(t, env, "", "device", "trust", "alice", "   ")
	assert.Equal(t, ExitUsage, exitCode(t, err))
}

func TestAuditListJSON(t *testing.T) {
	env := apitest.New(t, 100, 100)
	env.Credentials.Set("alice", "s3cret")
	_, err := env.Runtime.Auth.Authenticate(testContext(t), auth.Request{AccountID: "alice", Password: "s3cret"})
	require.NoError(t, err)

	out, err := run(t, env, "", "audit", "list", "alice", "--format", "json")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0]["outcome"])

	out, err = run(t, env, "", "audit", "list", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "yes")
}

func TestSessionsRevokeAndTOTPReset(t *testing.T) {
	env := apitest.New(t, 100, 100)
	env.PasswordSession(t, "alice", "s3cret")

	out, err := run(t, env, "", "sessions", "revoke", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 1 session(s)")

	out, err = run(t, env, "", "totp", "reset", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 0 session(s)")
}

func TestPasswordSet(t *testing.T) {
	env := apitest.New(t, 100, 100)

	_, err := run(t, env, "short\n", "password", "set", "alice")
	assert.Equal(t, ExitUsage, exitCode(t, err))

	// The in-memory runtime has no Postgres store.
	_, err = run(t, env, "a-long-enough-password\n", "password", "set", "alice")
	assert.Equal(t, ExitOperation, exitCode(t, err))
}

func TestRejectsUnknownFormat(t *testing.T) {
	env := apitest.New(t, 100, 100)
	_, err := run(t, env, "", "status", "alice", "--format", "yaml")
	assert.Equal(t, ExitUsage, exitCode(t, err))
}

func TestLoaderFailureIsOperationError(t *testing.T) {
	root := NewRootCommand(func(context.Context) (*bootstrap.Runtime, error) {
		return nil, errors.New("dial tcp: connection refused")
	}, "test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"status", "alice"})
	err := root.ExecuteContext(testContext(t))
	assert.Equal(t, ExitOperation, exitCode(t, err))
	assert.Contains(t, err.Error(), "connection refused")
}
