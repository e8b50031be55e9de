// Package accounts provides administrative HTTP handlers for managing the
// authentication posture of administrator accounts.
//
// Purpose:
//
//	Operators use these routes to review and change another account's
//	security policy, reset its TOTP factor, clear lockouts, manage trusted
//	devices and read its login audit trail. Every route requires a session
//	whose login satisfied the TOTP factor.
//
// Key Responsibilities:
//   - GET /v1/admin/accounts/{accountId}/status
//   - GET|PUT|DELETE /v1/admin/accounts/{accountId}/policy
//   - DELETE /v1/admin/accounts/{accountId}/totp
//   - POST /v1/admin/accounts/{accountId}/unlock
//   - DELETE /v1/admin/accounts/{accountId}/sessions
//   - GET /v1/admin/accounts/{accountId}/audit?limit=N
//   - GET|POST /v1/admin/accounts/{accountId}/devices, DELETE .../devices/{fingerprintHash}
//
// Error Handling:
//   - Invalid policy returns 400 with the violated rule in "detail"
//   - Unknown device returns 404
//   - Backend errors return 503
package accounts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

// RegisterRoutes mounts account administration routes beneath /v1/admin/accounts.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Auth == nil {
		return
	}
	h := &Handler{runtime: rt, logger: logger.With().Str("component", "accounts").Logger()}

	router.Route("/v1/admin/accounts/{accountId}", func(r chi.Router) {
		r.Use(middleware.RequireSession(rt, h.logger))
		r.Use(middleware.RequireFactor(policy.FactorTOTP))

		r.Get("/status", h.Status)
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.PutPolicy)
		r.Delete("/policy", h.DeletePolicy)
		r.Delete("/totp", h.ResetTOTP)
		r.Post("/unlock", h.Unlock)
		r.Delete("/sessions", h.RevokeSessions)
		r.Get("/audit", h.ListAudit)
		r.Get("/devices", h.ListDevices)
		r.Post("/devices", h.TrustDevice)
		r.Delete("/devices/{fingerprintHash}", h.RevokeDevice)
	})
}

// Handler serves account administration endpoints.
type Handler struct {
	runtime *bootstrap.Runtime
	logger  zerolog.Logger
}

type invalidPolicyResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type revokedResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

type trustDeviceRequest struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label,omitempty"`
}

// Status handles GET .../status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	status, err := h.runtime.Auth.GetSecurityStatus(r.Context(), accountID)
	if err != nil {
		h.unavailable(w, err, accountID, "failed to load security status")
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, status)
}

// GetPolicy handles GET .../policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	p, err := h.runtime.Auth.GetPolicy(r.Context(), accountID)
	if err != nil {
		h.unavailable(w, err, accountID, "failed to load policy")
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, p)
}

// PutPolicy handles PUT .../policy.
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	var p policy.Policy
	if err := httpapi.DecodeJSON(r, &p); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid_request")
		return
	}

	stored, err := h.runtime.Auth.SetPolicy(r.Context(), accountID, p)
	if errors.Is(err, policy.ErrInvalidPolicy) {
		httpapi.WriteJSON(w, h.logger, http.StatusBadRequest, invalidPolicyResponse{Error: "invalid_policy", Detail: err.Error()})
		return
	}
	if err != nil {
		h.unavailable(w, err, accountID, "failed to store policy")
		return
	}
	h.actorLog(r, accountID).Strs("required_factors", factorNames(stored.RequiredFactors)).Msg("policy updated")
	httpapi.WriteJSON(w, h.logger, http.StatusOK, stored)
}

// DeletePolicy handles DELETE .../policy, reverting to the default policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if err := h.runtime.Auth.ResetPolicy(r.Context(), accountID); err != nil {
		h.unavailable(w, err, accountID, "failed to reset policy")
		return
	}
	h.actorLog(r, accountID).Msg("policy reset to default")
	w.WriteHeader(http.StatusNoContent)
}

// ResetTOTP handles DELETE .../totp.
func (h *Handler) ResetTOTP(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	n, err := h.runtime.Auth.ResetTOTP(r.Context(), accountID)
	if err != nil {
		h.unavailable(w, err, accountID, "failed to reset totp")
		return
	}
	h.actorLog(r, accountID).Int("sessions_revoked", n).Msg("totp reset")
	httpapi.WriteJSON(w, h.logger, http.StatusOK, revokedResponse{SessionsRevoked: n})
}

// Unlock handles POST .../unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if err := h.runtime.Auth.Unlock(r.Context(), accountID); err != nil {
		h.unavailable(w, err, accountID, "failed to unlock account")
		return
	}
	h.actorLog(r, accountID).Msg("account unlocked")
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSessions handles DELETE .../sessions.
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	n, err := h.runtime.Auth.RevokeSessions(r.Context(), accountID)
	if err != nil {
		h.unavailable(w, err, accountID, "failed to revoke sessions")
		return
	}
	h.actorLog(r, accountID).Int("sessions_revoked", n).Msg("sessions revoked")
	httpapi.WriteJSON(w, h.logger, http.StatusOK, revokedResponse{SessionsRevoked: n})
}

// ListAudit handles GET .../audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	entries, err := h.runtime.Auth.ListAudit(r.Context(), accountID, limit)
	if errors.Is(err, auth.ErrAuditListingUnavailable) {
		httpapi.WriteError(w, h.logger, http.StatusNotImplemented, "audit_listing_unavailable")
		return
	}
	if err != nil {
		h.unavailable(w, err, accountID, "failed to list audit entries")
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"entries": entries})
}

// ListDevices handles GET .../devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	devices, err := h.runtime.Auth.ListDevices(r.Context(), accountID)
	if err != nil {
		h.unavailable(w, err, accountID, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.TrustedDevice{}
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"devices": devices})
}

// TrustDevice handles POST .../devices.
func (h *Handler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	var payload trustDeviceRequest
	if err := httpapi.DecodeJSON(r, &payload); err != nil {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "invalid_request")
		return
	}

	d, err := h.runtime.Auth.TrustDevice(r.Context(), accountID, payload.Fingerprint, payload.Label)
	if errors.Is(err, auth.ErrFingerprintRequired) {
		httpapi.WriteError(w, h.logger, http.StatusBadRequest, "fingerprint_required")
		return
	}
	if err != nil {
		h.unavailable(w, err, accountID, "failed to trust device")
		return
	}
	h.actorLog(r, accountID).Str("device_hash", d.FingerprintHash).Msg("device trusted")
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, d)
}

// RevokeDevice handles DELETE .../devices/{fingerprintHash}.
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	hash := chi.URLParam(r, "fingerprintHash")
	err := h.runtime.Auth.RevokeDevice(r.Context(), accountID, hash)
	if errors.Is(err, device.ErrNotFound) {
		httpapi.WriteError(w, h.logger, http.StatusNotFound, "device_not_found")
		return
	}
	if err != nil {
		h.unavailable(w, err, accountID, "failed to revoke device")
		return
	}
	h.actorLog(r, accountID).Str("device_hash", hash).Msg("device revoked")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unavailable(w http.ResponseWriter, err error, accountID, msg string) {
	h.logger.Error().Err(err).Str("account_id", accountID).Msg(msg)
	httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
}

// actorLog starts an info event naming both the operator and the target account.
func (h *Handler) actorLog(r *http.Request, accountID string) *zerolog.Event {
	sess, _ := middleware.SessionFromContext(r.Context())
	return h.logger.Info().Str("actor", sess.AccountID).Str("account_id", accountID)
}

func factorNames(fs []policy.Factor) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
