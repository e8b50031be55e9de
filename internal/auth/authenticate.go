package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/governor"
	"github.com/otherjamesbrown/admin-auth-service/internal/metrics"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

// attempt carries the per-request state of one Authenticate call.
type attempt struct {
	accountID     string
	policy        policy.Policy
	factorsUsed   []string
	sourceContext map[string]string
}

func (a *attempt) used(f policy.Factor) {
	a.factorsUsed = append(a.factorsUsed, string(f))
}

// Authenticate runs one login attempt. The returned error is non-nil only
// when the attempt could not be audited; Result then never reports success.
func (s *Service) Authenticate(ctx context.Context, req Request) (Result, error) {
	// Counter updates and audit writes must land even if the caller goes away.
	durable := context.WithoutCancel(ctx)
	a := &attempt{
		accountID:     strings.TrimSpace(req.AccountID),
		sourceContext: buildSourceContext(req),
	}

	if a.accountID == "" {
		return s.fail(durable, a, audit.ReasonInvalidCredentials, false, nil)
	}

	status, err := s.governor.CheckLockout(ctx, a.accountID)
	if err != nil {
		// A broken counter store cannot count this attempt either.
		return s.fail(durable, a, audit.ReasonFactorCheckTimeout, false, err)
	}
	if status.Locked {
		res, auditErr := s.fail(durable, a, audit.ReasonAccountLocked, false, nil)
		res.LockedUntil = status.LockedUntil
		return res, auditErr
	}

	p, err := s.policies.Get(ctx, a.accountID)
	if err != nil {
		// Thresholds are unknown without a policy; count against the defaults.
		a.policy = policy.Default()
		return s.fail(durable, a, audit.ReasonFactorCheckTimeout, true, err)
	}
	a.policy = p

	if reason, counted, err := s.checkPassword(ctx, a, req.Password); reason != audit.ReasonNone {
		return s.fail(durable, a, reason, counted, err)
	}
	if p.Requires(policy.FactorTOTP) {
		if reason, counted, err := s.checkTOTP(ctx, durable, a, req.TOTPCode); reason != audit.ReasonNone {
			return s.fail(durable, a, reason, counted, err)
		}
	}
	if p.Requires(policy.FactorDeviceTrust) {
		if reason, counted, err := s.checkDevice(ctx, a, req.Device); reason != audit.ReasonNone {
			return s.fail(durable, a, reason, counted, err)
		}
	}

	return s.succeed(durable, a)
}

func (s *Service) checkPassword(ctx context.Context, a *attempt, password string) (audit.FailureReason, bool, error) {
	a.used(policy.FactorPassword)
	start := time.Now()
	ok, err := callWithTimeout(ctx, s.cfg.PasswordCheckTimeout, func(ctx context.Context) (bool, error) {
		return s.credentials.VerifyPassword(ctx, a.accountID, password)
	})
	switch {
	case err != nil:
		metrics.ObserveFactorCheck(string(policy.FactorPassword), "error", time.Since(start))
		return audit.ReasonFactorCheckTimeout, true, fmt.Errorf("password check: %w", err)
	case !ok:
		metrics.ObserveFactorCheck(string(policy.FactorPassword), "rejected", time.Since(start))
		return audit.ReasonInvalidCredentials, true, nil
	default:
		metrics.ObserveFactorCheck(string(policy.FactorPassword), "accepted", time.Since(start))
		return audit.ReasonNone, false, nil
	}
}

func (s *Service) checkTOTP(ctx, durable context.Context, a *attempt, code string) (audit.FailureReason, bool, error) {
	a.used(policy.FactorTOTP)
	start := time.Now()
	observe := func(result string) {
		metrics.ObserveFactorCheck(string(policy.FactorTOTP), result, time.Since(start))
	}

	secret, err := s.enrollment.EnabledSecret(ctx, a.accountID)
	if errors.Is(err, enrollment.ErrNotEnrolled) {
		// Required but never enrolled: a configuration problem, not a guess.
		observe("not_enrolled")
		return audit.ReasonFactorNotEnrolled, false, nil
	}
	if err != nil {
		observe("error")
		return audit.ReasonFactorCheckTimeout, true, fmt.Errorf("totp secret: %w", err)
	}

	tolerance := s.cfg.TOTPToleranceSteps
	step, ok := security.MatchStep(secret, code, s.cfg.Now(), tolerance)
	if !ok {
		observe("rejected")
		return audit.ReasonInvalidTOTP, true, nil
	}

	fresh, err := s.replay.Consume(durable, a.accountID, step, security.ConsumedWindow(tolerance))
	if err != nil {
		observe("error")
		return audit.ReasonFactorCheckTimeout, true, fmt.Errorf("totp replay guard: %w", err)
	}
	if !fresh {
		observe("replayed")
		metrics.RecordTOTPReplay()
		a.sourceContext[audit.ContextReplay] = "true"
		return audit.ReasonInvalidTOTP, true, nil
	}

	observe("accepted")
	return audit.ReasonNone, false, nil
}

func (s *Service) checkDevice(ctx context.Context, a *attempt, sig *device.Signal) (audit.FailureReason, bool, error) {
	a.used(policy.FactorDeviceTrust)
	start := time.Now()
	verdict, err := callWithTimeout(ctx, s.cfg.DeviceCheckTimeout, func(ctx context.Context) (device.Verdict, error) {
		return s.devices.Evaluate(ctx, a.accountID, sig)
	})
	switch {
	case err != nil:
		metrics.ObserveFactorCheck(string(policy.FactorDeviceTrust), "error", time.Since(start))
		return audit.ReasonFactorCheckTimeout, true, fmt.Errorf("device check: %w", err)
	case verdict != device.Trusted:
		metrics.ObserveFactorCheck(string(policy.FactorDeviceTrust), "rejected", time.Since(start))
		return audit.ReasonUntrustedDevice, true, nil
	default:
		metrics.ObserveFactorCheck(string(policy.FactorDeviceTrust), "accepted", time.Since(start))
		return audit.ReasonNone, false, nil
	}
}

// fail ends the attempt. counted failures go through the governor before the
// audit entry is written, so the entry can carry the lockout marker. A
// failure that lands on a lock set by a concurrent attempt is reported as
// AccountLocked, the same answer a correct password would get.
func (s *Service) fail(ctx context.Context, a *attempt, reason audit.FailureReason, counted bool, cause error) (Result, error) {
	var lockedUntil *time.Time
	if counted {
		outcome, err := s.governor.RecordFailure(ctx, a.accountID, a.policy)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Str("account_id", a.accountID).Msg("failed to record authentication failure")
		case outcome.LockedNow:
			a.sourceContext[audit.ContextLockoutTriggered] = "true"
			lockedUntil = outcome.Counter.LockedUntil
		case outcome.AlreadyLocked:
			reason = audit.ReasonAccountLocked
			lockedUntil = outcome.Counter.LockedUntil
		}
	}
	res := Result{Status: StatusFailure, Reason: reason, LockedUntil: lockedUntil}
	if cause != nil {
		a.sourceContext[audit.ContextDetail] = cause.Error()
	}

	entry := audit.NewEntry(a.accountID, s.cfg.Now(), audit.OutcomeFailure, reason, a.factorsUsed, a.sourceContext)
	res.EntryID = entry.EntryID.String()
	metrics.RecordAuthFailure(string(reason))

	evt := s.logger.Info()
	if cause != nil {
		evt = s.logger.Warn().Err(cause)
	}
	evt.Str("account_id", a.accountID).
		Str("reason", string(reason)).
		Bool("counted", counted).
		Str("entry_id", res.EntryID).
		Msg("authentication failed")

	if err := s.audit.Record(ctx, entry); err != nil {
		return res, s.auditFailed(a, err)
	}
	return res, nil
}

// succeed clears the attempt counter, issues the session and writes the
// success entry. The counter reset refuses a lock set while this attempt was
// in flight; if the session or the audit write fails afterwards, the cleared
// failures are put back.
func (s *Service) succeed(ctx context.Context, a *attempt) (Result, error) {
	cleared, err := s.governor.RecordSuccess(ctx, a.accountID)
	if errors.Is(err, governor.ErrLocked) {
		res, auditErr := s.fail(ctx, a, audit.ReasonAccountLocked, false, nil)
		res.LockedUntil = cleared.LockedUntil
		return res, auditErr
	}
	if err != nil {
		return s.fail(ctx, a, audit.ReasonFactorCheckTimeout, false, err)
	}

	token, sess, err := s.sessions.Issue(ctx, a.accountID, a.policy.Normalized().RequiredFactors, a.policy.SessionTimeout())
	if err != nil {
		s.restoreCounter(ctx, a, cleared)
		return s.fail(ctx, a, audit.ReasonFactorCheckTimeout, false, err)
	}

	entry := audit.NewEntry(a.accountID, s.cfg.Now(), audit.OutcomeSuccess, audit.ReasonNone, a.factorsUsed, a.sourceContext)
	if err := s.audit.Record(ctx, entry); err != nil {
		// No unaudited session may survive.
		if revokeErr := s.sessions.Revoke(ctx, token); revokeErr != nil {
			s.logger.Error().Err(revokeErr).Str("account_id", a.accountID).Msg("failed to revoke unaudited session")
		}
		s.restoreCounter(ctx, a, cleared)
		return Result{Status: StatusFailure, Reason: audit.ReasonAuditWriteFailure}, s.auditFailed(a, err)
	}

	metrics.RecordAuthSuccess()
	s.logger.Info().
		Str("account_id", a.accountID).
		Str("session_id", sess.ID).
		Strs("factors", a.factorsUsed).
		Msg("authentication succeeded")

	return Result{
		Status:       StatusSuccess,
		SessionToken: token,
		Session:      &sess,
		EntryID:      entry.EntryID.String(),
	}, nil
}

func (s *Service) restoreCounter(ctx context.Context, a *attempt, cleared governor.Counter) {
	if err := s.governor.Restore(ctx, a.accountID, cleared, a.policy); err != nil {
		s.logger.Error().Err(err).Str("account_id", a.accountID).Msg("failed to restore attempt counter")
	}
}

func (s *Service) auditFailed(a *attempt, err error) error {
	metrics.RecordAuditWriteFailure()
	s.logger.Error().Err(err).Str("account_id", a.accountID).Msg("audit write failed")
	return fmt.Errorf("%w: %w", ErrAuditWriteFailure, err)
}

func buildSourceContext(req Request) map[string]string {
	out := make(map[string]string, len(req.SourceContext)+3)
	for k, v := range req.SourceContext {
		out[k] = v
	}
	if req.Device != nil {
		if h := device.FingerprintHash(req.Device.Fingerprint); h != "" {
			out[audit.ContextDeviceHash] = h
		}
		if _, ok := out[audit.ContextIPAddress]; !ok && req.Device.IPAddress != "" {
			out[audit.ContextIPAddress] = req.Device.IPAddress
		}
		if _, ok := out[audit.ContextUserAgent]; !ok && req.Device.UserAgent != "" {
			out[audit.ContextUserAgent] = req.Device.UserAgent
		}
	}
	return out
}
