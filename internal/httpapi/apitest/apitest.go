// Package apitest builds in-memory runtimes for HTTP handler tests.
package apitest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/config"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/replay"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
)

// Credentials is an in-memory auth.CredentialVerifier.
type Credentials struct {
	mu        sync.Mutex
	passwords map[string]string
}

// Set stores a password.
func (c *Credentials) Set(accountID, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwords[accountID] = password
}

// VerifyPassword implements auth.CredentialVerifier.
func (c *Credentials) VerifyPassword(_ context.Context, accountID, password string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want, ok := c.passwords[accountID]
	return ok && want == password, nil
}

// Env is a runtime wired entirely to in-memory backends.
type Env struct {
	Runtime     *bootstrap.Runtime
	Credentials *Credentials
	Audit       *audit.MemoryRecorder
	Devices     *device.MemoryStore
}

// New builds an Env with the given login rate limit.
func New(t *testing.T, rateLimit float64, burst int) *Env {
	t.Helper()
	logger := zerolog.Nop()
	guard := replay.NewMemoryGuard(nil)

	env := &Env{
		Credentials: &Credentials{passwords: map[string]string{}},
		Audit:       audit.NewMemoryRecorder(),
		Devices:     device.NewMemoryStore(),
	}
	rt := &bootstrap.Runtime{
		Config: &config.Config{
			ServiceName:    "admin-auth-test",
			LoginRateLimit: rateLimit,
			LoginRateBurst: burst,
		},
		Logger:     logger,
		Audit:      env.Audit,
		Policies:   policy.NewService(policy.NewMemoryStore(), nil, logger),
		Governor:   governor.New(governor.NewMemoryStore(), logger),
		Enrollment: enrollment.NewManager(enrollment.NewMemoryFactorStore(), guard, enrollment.Config{Issuer: "Dealer Admin"}, logger),
		Sessions:   session.NewManager(session.NewMemoryStore(nil), nil),
	}

	svc, err := auth.New(auth.Dependencies{
		Credentials: env.Credentials,
		Policies:    rt.Policies,
		Governor:    rt.Governor,
		Enrollment:  rt.Enrollment,
		Sessions:    rt.Sessions,
		Audit:       env.Audit,
		Replay:      guard,
		DeviceStore: env.Devices,
		Logger:      logger,
	}, auth.Config{TOTPToleranceSteps: 1})
	require.NoError(t, err)
	rt.Auth = svc
	env.Runtime = rt
	return env
}

// PasswordSession creates a password-only account and returns a session token.
func (e *Env) PasswordSession(t *testing.T, accountID, password string) string {
	t.Helper()
	e.Credentials.Set(accountID, password)
	res, err := e.Runtime.Auth.Authenticate(context.Background(), auth.Request{AccountID: accountID, Password: password})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "login failed: %s", res.Reason)
	return res.SessionToken
}

// EnrollTOTP enrolls accountID, requires password+totp for it and returns the secret.
func (e *Env) EnrollTOTP(t *testing.T, accountID string) []byte {
	t.Helper()
	ctx := context.Background()

	challenge, err := e.Runtime.Auth.StartEnrollment(ctx, accountID)
	require.NoError(t, err)
	secret, err := security.DecodeSecret(challenge.SecretDisplay)
	require.NoError(t, err)
	code, err := security.CurrentCode(secret, time.Now())
	require.NoError(t, err)
	status, err := e.Runtime.Auth.ConfirmEnrollment(ctx, accountID, code)
	require.NoError(t, err)
	require.Equal(t, auth.ConfirmEnabled, status)

	_, err = e.Runtime.Auth.SetPolicy(ctx, accountID, policy.Policy{
		RequiredFactors:        []policy.Factor{policy.FactorPassword, policy.FactorTOTP},
		MaxAttempts:            5,
		LockoutDurationSeconds: 600,
		SessionTimeoutSeconds:  3600,
	})
	require.NoError(t, err)
	return secret
}

// NextCode returns a code for the step after the current one. It is accepted
// within the one-step tolerance and never collides with a confirmation code.
func NextCode(t *testing.T, secret []byte) string {
	t.Helper()
	code, err := security.CurrentCode(secret, time.Now().Add(time.Duration(security.StepSeconds)*time.Second))
	require.NoError(t, err)
	return code
}

// OperatorSession returns a token for an account whose login satisfied TOTP.
func (e *Env) OperatorSession(t *testing.T, accountID, password string) string {
	t.Helper()
	e.Credentials.Set(accountID, password)
	secret := e.EnrollTOTP(t, accountID)
	res, err := e.Runtime.Auth.Authenticate(context.Background(), auth.Request{
		AccountID: accountID,
		Password:  password,
		TOTPCode:  NextCode(t, secret),
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "operator login failed: %s", res.Reason)
	return res.SessionToken
}
