// Package authn provides HTTP handlers for administrator login, logout,
// session introspection and self-service TOTP enrollment.
//
// Purpose:
//
//	These handlers translate JSON payloads into auth.Service calls and map
//	results onto coarse public error codes. The audit-grade failure reason
//	never leaves the process.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: route registration
//   - internal/bootstrap: Runtime dependencies (auth service, config)
//   - internal/httpapi/middleware: session and rate limit middleware
//
// Key Responsibilities:
//   - Login: POST /v1/auth/login (rate limited per client IP)
//   - Logout: POST /v1/auth/logout
//   - Session: GET /v1/auth/session
//   - Security: GET /v1/auth/security
//   - TOTP: POST /v1/auth/totp/enroll, POST /v1/auth/totp/confirm
//
// Debugging Notes:
//   - Failed logins answer 401 authentication_failed for wrong password,
//     wrong code and untrusted device alike
//   - 423 account_locked carries Retry-After
//   - Correlate a response with its audit entry through X-Request-Id
//
// Thread Safety:
//   - Handler methods are safe for concurrent use
//
// Error Handling:
//   - Invalid JSON returns 400 Bad Request
//   - Audit or collaborator outages return 503 temporarily_unavailable
package authn

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/enrollment"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

// DeviceFingerprintHeader carries the client device fingerprint when the body does not.
const DeviceFingerprintHeader = "X-Device-Fingerprint"

// RegisterRoutes mounts authentication routes beneath /v1/auth.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Auth == nil {
		return
	}
	h := &Handler{runtime: rt, logger: logger.With().Str("component", "authn").Logger()}

	limit, burst := 5.0, 10
	if rt.Config != nil {
		limit, burst = rt.Config.LoginRateLimit, rt.Config.LoginRateBurst
	}
	limiter := middleware.NewLoginLimiter(limit, burst)

	router.Route("/v1/auth", func(r chi.Router) {
		r.With(limiter.Middleware).Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(rt, h.logger))
			r.Post("/logout", h.Logout)
			r.Get("/session", h.Session)
			r.Get("/security", h.Security)
			r.Post("/totp/enroll", h.BeginEnrollment)
			r.Post("/totp/confirm", h.ConfirmEnrollment)
		})
	})
}

// Handler serves authentication endpoints.
type Handler struct {
	runtime *bootstrap.Runtime
	logger  zerolog.Logger
}

type loginRequest struct {
	AccountID         string `json:"account_id"`
	Password          string `json:"password"`
	TOTPCode          string `json:"totp_code,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

type loginResponse struct {
	SessionToken     string          `json:"session_token"`
	ExpiresAt        time.Time       `json:"expires_at"`
	FactorsSatisfied []policy.Factor `json:"factors_satisfied"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

type confirmResponse struct {
	Status auth.ConfirmStatus `json:"status"`
}

// Login runs one authentication attempt.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := httpapi.DecodeJSON(r, &payload); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid_request")
		return
	}

	ip := remoteIP(r)
	fingerprint := payload.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = r.Header.Get(DeviceFingerprintHeader)
	}

	req := auth.Request{
		AccountID: strings.TrimSpace(payload.AccountID),
		Password:  payload.Password,
		TOTPCode:  strings.TrimSpace(payload.TOTPCode),
		Device: &device.Signal{
			Fingerprint: fingerprint,
			IPAddress:   ip,
			UserAgent:   r.UserAgent(),
		},
		SourceContext: map[string]string{},
	}
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		req.SourceContext[audit.ContextRequestID] = id
	}

	res, err := h.runtime.Auth.Authenticate(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", req.AccountID).Msg("login could not be audited")
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
		return
	}

	if !res.Succeeded() {
		code := res.PublicReason()
		status := statusForPublicReason(code)
		if status == http.StatusLocked && res.LockedUntil != nil {
			if wait := time.Until(*res.LockedUntil); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
		}
		httpapi.WriteError(w, h.logger, status, code)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, loginResponse{
		SessionToken:     res.SessionToken,
		ExpiresAt:        res.Session.ExpiresAt,
		FactorsSatisfied: res.Session.FactorsSatisfied,
	})
}

// Logout revokes the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.Auth.Logout(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session describes the caller's session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	httpapi.WriteJSON(w, h.logger, http.StatusOK, sess)
}

// Security reports the caller's own security status.
func (h *Handler) Security(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	status, err := h.runtime.Auth.GetSecurityStatus(r.Context(), sess.AccountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", sess.AccountID).Msg("failed to load security status")
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, status)
}

// BeginEnrollment starts TOTP enrollment for the caller's account.
func (h *Handler) BeginEnrollment(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	challenge, err := h.runtime.Auth.StartEnrollment(r.Context(), sess.AccountID)
	switch {
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		httpapi.WriteError(w, h.logger, http.StatusConflict, "already_enrolled")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("account_id", sess.AccountID).Msg("failed to start enrollment")
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, challenge)
}

// ConfirmEnrollment submits the first code from the authenticator app.
func (h *Handler) ConfirmEnrollment(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	var payload confirmRequest
	if err := httpapi.DecodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Code) == "" {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid_request")
		return
	}

	status, err := h.runtime.Auth.ConfirmEnrollment(r.Context(), sess.AccountID, payload.Code)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", sess.AccountID).Msg("failed to confirm enrollment")
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
		return
	}
	code := http.StatusOK
	if status == auth.ConfirmRejected {
		code = http.StatusUnprocessableEntity
	}
	httpapi.WriteJSON(w, h.logger, code, confirmResponse{Status: status})
}

func statusForPublicReason(code string) int {
	switch code {
	case auth.PublicAccountLocked:
		return http.StatusLocked
	case auth.PublicEnrollmentRequired:
		return http.StatusForbidden
	case auth.PublicTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
