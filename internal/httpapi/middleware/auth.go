// Package middleware provides HTTP middleware for session authentication,
// factor requirements and login rate limiting.
//
// Purpose:
//
//	This package validates the opaque bearer tokens issued by a successful
//	login, stores the session in the request context and protects the login
//	route from password spraying with a per-client token bucket.
//
// Dependencies:
//   - golang.org/x/time/rate: per-client token buckets
//   - internal/bootstrap: Runtime dependencies (auth service)
//   - internal/session: Session type stored in the context
//
// Key Responsibilities:
//   - RequireSession: "Authorization: Bearer <token>" → session in context
//   - RequireFactor: reject sessions that did not satisfy a factor
//   - LoginLimiter: 429 once a client IP exhausts its bucket
//
// Debugging Notes:
//   - Tokens are never logged; only the path and failure reason are
//   - The limiter keys on r.RemoteAddr, which chi's RealIP middleware rewrites
//
// Thread Safety:
//   - Middleware is safe for concurrent use
//
// Error Handling:
//   - Every rejection is a JSON {"error": code} body (httpapi.WriteError)
//   - Missing or invalid token returns 401 Unauthorized
//   - Missing factor returns 403 Forbidden
//   - Session store errors return 503 Service Unavailable
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
	"github.com/otherjamesbrown/admin-auth-service/internal/session"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// SessionKey is the context key for the authenticated session.
	SessionKey ContextKey = "auth.session"
	// TokenKey is the context key for the raw bearer token.
	TokenKey ContextKey = "auth.token"
)

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(SessionKey).(session.Session)
	return s, ok
}

// TokenFromContext returns the bearer token stored by RequireSession.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(TokenKey).(string)
	return t
}

// RequireSession validates the bearer token and stores the session in the context.
func RequireSession(rt *bootstrap.Runtime, logger zerolog.Logger) func(http.Handler) http.Handler {
	if rt == nil || rt.Auth == nil {
		logger.Warn().Msg("auth service not available, session middleware will reject all requests")
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpapi.WriteError(w, logger, http.StatusInternalServerError, "authentication_not_configured")
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Debug().Str("path", r.URL.Path).Msg("missing or malformed authorization header")
				httpapi.WriteError(w, logger, http.StatusUnauthorized, "missing_bearer_token")
				return
			}

			sess, err := rt.Auth.ValidateSession(r.Context(), token)
			if errors.Is(err, session.ErrNotFound) {
				logger.Debug().Str("path", r.URL.Path).Msg("session not found or expired")
				httpapi.WriteError(w, logger, http.StatusUnauthorized, "invalid_session")
				return
			}
			if err != nil {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("session lookup failed")
				httpapi.WriteError(w, logger, http.StatusServiceUnavailable, auth.PublicTemporarilyUnavailable)
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, sess)
			ctx = context.WithValue(ctx, TokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFactor rejects sessions whose login did not satisfy f. Must run after RequireSession.
func RequireFactor(f policy.Factor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				httpapi.WriteError(w, *zerolog.Ctx(r.Context()), http.StatusUnauthorized, "missing_session")
				return
			}
			for _, got := range sess.FactorsSatisfied {
				if got == f {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpapi.WriteError(w, *zerolog.Ctx(r.Context()), http.StatusForbidden, string(f)+"_required")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
