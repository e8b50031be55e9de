package auth

import (
	"time"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
)

// Status is the terminal state of an attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Public failure codes. Several audit reasons share one code so a caller
// cannot tell which factor failed.
const (
	PublicAuthenticationFailed   = "authentication_failed"
	PublicAccountLocked          = "account_locked"
	PublicEnrollmentRequired     = "enrollment_required"
	PublicTemporarilyUnavailable = "temporarily_unavailable"
)

// Request is one login attempt.
type Request struct {
	AccountID string
	Password  string
	// TOTPCode is required only when the account's policy requires totp.
	TOTPCode string
	Device   *device.Signal
	// SourceContext is copied into the audit entry (ip, user agent, request id).
	SourceContext map[string]string
}

// Result is the outcome of Authenticate.
type Result struct {
	Status Status
	// Reason is empty on success. Never expose it to the end user.
	Reason       audit.FailureReason
	SessionToken string
	Session      *session.Session
	LockedUntil  *time.Time
	EntryID      string
}

// Succeeded reports whether a session was issued.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// PublicReason maps Reason onto the coarse code that may be returned to the caller.
func (r Result) PublicReason() string {
	switch r.Reason {
	case audit.ReasonNone:
		return ""
	case audit.ReasonAccountLocked:
		return PublicAccountLocked
	case audit.ReasonFactorNotEnrolled:
		return PublicEnrollmentRequired
	case audit.ReasonFactorCheckTimeout, audit.ReasonAuditWriteFailure:
		return PublicTemporarilyUnavailable
	default:
		return PublicAuthenticationFailed
	}
}
