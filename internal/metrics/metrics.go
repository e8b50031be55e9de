// Package metrics provides Prometheus collectors for the admin-auth service.
//
// Purpose:
//
//	This package defines and exports Prometheus metrics for login attempts,
//	factor checks, lockouts, enrollment, sessions and audit writes. Metrics are
//	registered globally on import and served from /metrics.
//
// Dependencies:
//   - github.com/prometheus/client_golang/prometheus: Prometheus Go client
//
// Usage:
//
//	metrics.RecordAuthSuccess()
//	metrics.RecordAuthFailure("invalid_totp")
//	metrics.ObserveFactorCheck("password", "pass", elapsed)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "admin_auth_service"
	subsystem = "auth"
)

var (
	// AuthAttemptsTotal counts terminal login outcomes.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total number of administrator login attempts by result",
		},
		[]string{"result"}, // success, failure
	)

	// AuthFailuresTotal counts failed logins by fine-grained reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Total number of failed administrator logins by reason",
		},
		[]string{"reason"},
	)

	// FactorCheckDurationSeconds measures each factor check.
	FactorCheckDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "factor_check_duration_seconds",
			Help:      "Duration of individual factor checks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"factor", "result"}, // factor: password, totp, device_trust; result: pass, fail, timeout
	)

	// LockoutsTotal counts lockout transitions.
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lockouts_total",
			Help:      "Total number of account lockout transitions",
		},
	)

	// TOTPReplaysTotal counts codes rejected because their step was already consumed.
	TOTPReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "totp_replays_total",
			Help:      "Total number of TOTP codes rejected as replays",
		},
	)

	// EnrollmentEventsTotal counts enrollment transitions.
	EnrollmentEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrollment",
			Name:      "events_total",
			Help:      "Total number of TOTP enrollment events by action",
		},
		[]string{"action"}, // begin, confirm, reject, reset
	)

	// SessionsCreatedTotal counts issued sessions.
	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Total number of administrator sessions created",
		},
	)

	// SessionsRevokedTotal counts revoked sessions.
	SessionsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_revoked_total",
			Help:      "Total number of administrator sessions revoked",
		},
	)

	// AuditWriteFailuresTotal counts audit entries that could not be written.
	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of audit entries that failed to persist",
		},
	)

	// RateLimitedTotal counts login requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of login requests rejected by the rate limiter",
		},
	)
)

// RecordAuthSuccess records a successful login.
func RecordAuthSuccess() {
	AuthAttemptsTotal.WithLabelValues("success").Inc()
}

// RecordAuthFailure records a failed login.
func RecordAuthFailure(reason string) {
	AuthAttemptsTotal.WithLabelValues("failure").Inc()
	AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveFactorCheck records how long a factor check took.
func ObserveFactorCheck(factor, result string, elapsed time.Duration) {
	FactorCheckDurationSeconds.WithLabelValues(factor, result).Observe(elapsed.Seconds())
}

// RecordLockout records a lockout transition.
func RecordLockout() {
	LockoutsTotal.Inc()
}

// RecordTOTPReplay records a replayed code.
func RecordTOTPReplay() {
	TOTPReplaysTotal.Inc()
}

// RecordEnrollment records an enrollment event.
func RecordEnrollment(action string) {
	EnrollmentEventsTotal.WithLabelValues(action).Inc()
}

// RecordSessionCreated records a session issuance.
func RecordSessionCreated() {
	SessionsCreatedTotal.Inc()
}

// RecordSessionRevoked records a session revocation.
func RecordSessionRevoked() {
	SessionsRevokedTotal.Inc()
}

// RecordAuditWriteFailure records a failed audit write.
func RecordAuditWriteFailure() {
	AuditWriteFailuresTotal.Inc()
}

// RecordRateLimited records a rate-limited request.
func RecordRateLimited() {
	RateLimitedTotal.Inc()
}
