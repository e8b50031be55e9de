// Package auth is the authentication orchestrator. It sequences the factor
// checks of one login attempt against the account's policy, drives the attempt
// governor, writes exactly one audit entry per attempt and issues a session on
// success.
//
// Purpose:
//
//	Every attempt walks the same state machine:
//
//	  Start -> LockoutCheck -> PasswordCheck -> TOTPCheck? -> DeviceTrustCheck? -> Terminal
//
//	The first failing check ends the attempt. Later factors are never
//	evaluated, so the caller learns nothing about them.
//
// Dependencies:
//   - internal/governor: lockout check and failure counting
//   - internal/policy: required factors and thresholds
//   - internal/enrollment, internal/security, internal/replay: TOTP factor
//   - internal/device: device trust factor
//   - internal/session: session issue on success
//   - internal/audit: one entry per terminal state
//
// Key Responsibilities:
//   - Authenticate: the login state machine
//   - StartEnrollment / ConfirmEnrollment / GetSecurityStatus
//   - Administrative actions (policy, TOTP reset, unlock, trusted devices, audit review)
//
// Debugging Notes:
//   - Result.Reason is the audit-grade reason; only Result.PublicReason() may
//     be shown to the person logging in
//   - Counter updates and audit writes use a context detached from the
//     caller's cancellation, so abandoning a request never un-counts a failure
//   - Collaborator errors and timeouts end the attempt as FactorCheckTimeout
//   - An attempt still in flight when another attempt locks the account ends
//     as AccountLocked whatever its password was
//   - A success denied after the counter reset (session or audit failure)
//     puts the cleared failures back
//
// Thread Safety:
//   - Service is safe for concurrent use; per-account atomicity lives in the
//     governor's CounterStore and the replay guard
//
// Error Handling:
//   - Factor failures are Result values; Authenticate returns an error only
//     for audit write failures (ErrAuditWriteFailure)
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/replay"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
)

// Defaults for Config.
const (
	DefaultPasswordCheckTimeout = 3 * time.Second
	DefaultDeviceCheckTimeout   = 2 * time.Second
)

var (
	// ErrAuditWriteFailure is returned when an attempt could not be audited.
	ErrAuditWriteFailure = errors.New("auth: audit write failure")
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("auth: missing dependency")
	// ErrAuditListingUnavailable is returned by ListAudit when the recorder cannot be queried.
	ErrAuditListingUnavailable = errors.New("auth: audit listing unavailable")
	// ErrFingerprintRequired is returned by TrustDevice for a blank fingerprint.
	ErrFingerprintRequired = errors.New("auth: device fingerprint is required")
)

// CredentialVerifier is the upstream credential store.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, accountID, password string) (bool, error)
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Credentials CredentialVerifier
	Policies    *policy.Service
	Governor    *governor.Governor
	Enrollment  *enrollment.Manager
	Sessions    *session.Manager
	Audit       audit.Recorder

	// Replay defaults to an in-process guard.
	Replay replay.Guard
	// DeviceStore backs the administrative device routes and, when Devices is
	// nil, the default KnownDeviceEvaluator.
	DeviceStore device.Store
	Devices     device.Evaluator
	// AuditLister serves ListAudit; optional.
	AuditLister audit.Lister

	Logger zerolog.Logger
}

// Config tunes a Service.
type Config struct {
	// TOTPToleranceSteps is clamped to [0, security.MaxToleranceSteps].
	TOTPToleranceSteps   int
	PasswordCheckTimeout time.Duration
	DeviceCheckTimeout   time.Duration
	Now                  func() time.Time
}

// Service orchestrates authentication and administrative account actions.
type Service struct {
	credentials CredentialVerifier
	policies    *policy.Service
	governor    *governor.Governor
	enrollment  *enrollment.Manager
	sessions    *session.Manager
	audit       audit.Recorder
	replay      replay.Guard
	deviceStore device.Store
	devices     device.Evaluator
	auditLister audit.Lister

	cfg    Config
	logger zerolog.Logger
}

// New validates deps and returns a Service.
func New(deps Dependencies, cfg Config) (*Service, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("credentials"))
	case deps.Policies == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("policies"))
	case deps.Governor == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("governor"))
	case deps.Enrollment == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("enrollment"))
	case deps.Sessions == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("sessions"))
	case deps.Audit == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("audit"))
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PasswordCheckTimeout <= 0 {
		cfg.PasswordCheckTimeout = DefaultPasswordCheckTimeout
	}
	if cfg.DeviceCheckTimeout <= 0 {
		cfg.DeviceCheckTimeout = DefaultDeviceCheckTimeout
	}
	if cfg.TOTPToleranceSteps < 0 {
		cfg.TOTPToleranceSteps = 0
	}
	if cfg.TOTPToleranceSteps > security.MaxToleranceSteps {
		cfg.TOTPToleranceSteps = security.MaxToleranceSteps
	}

	if deps.Replay == nil {
		deps.Replay = replay.NewMemoryGuard(cfg.Now)
	}
	if deps.DeviceStore == nil {
		deps.DeviceStore = device.NewMemoryStore()
	}
	if deps.Devices == nil {
		deps.Devices = device.NewKnownDeviceEvaluator(deps.DeviceStore)
	}
	if deps.AuditLister == nil {
		if l, ok := deps.Audit.(audit.Lister); ok {
			deps.AuditLister = l
		}
	}

	return &Service{
		credentials: deps.Credentials,
		policies:    deps.Policies,
		governor:    deps.Governor,
		enrollment:  deps.Enrollment,
		sessions:    deps.Sessions,
		audit:       deps.Audit,
		replay:      deps.Replay,
		deviceStore: deps.DeviceStore,
		devices:     deps.Devices,
		auditLister: deps.AuditLister,
		cfg:         cfg,
		logger:      deps.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

// callWithTimeout runs fn with a deadline and stops waiting when it passes,
// even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
