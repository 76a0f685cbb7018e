// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/security"
)

// claimsKey is the context key under which verified claims are stored.
const claimsKey contextKey = "claims"

// TokenVerifier checks bearer tokens. The security service satisfies it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string, opts ...security.VerifyOption) (*security.Claims, error)
}

// Authenticate requires a valid access token on every request it guards.
// All token problems produce the same 401 so a caller probing the API
// cannot distinguish a missing token from an expired or revoked one.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	logger := logging.Named("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("path", r.URL.Path).
					Str("request_id", GetRequestID(r.Context())).
					Msg("Token verification failed")
				unauthorized(w)
				return
			}
			if claims.TokenType != security.TokenTypeAccess {
				// Refresh tokens only buy new tokens, never API access.
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken pulls the token from the Authorization header, falling
// back to the access_token query parameter (RFC 6750 section 2.3).
// Browsers cannot attach headers to websocket upgrades, so the event
// stream endpoint depends on the query form.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, errs.KindSecurity, "authentication required", nil)
}

// ClaimsFrom returns the verified claims Authenticate stored, or false
// when the request never passed authentication.
func ClaimsFrom(ctx context.Context) (*security.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*security.Claims)
	return claims, ok
}

// UserIDFrom returns the authenticated subject, or "" when anonymous.
func UserIDFrom(ctx context.Context) string {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.UserID()
	}
	return ""
}

// ContextWithClaims stores claims the way Authenticate does. Tests use
// it to exercise authorization without a real token round trip.
func ContextWithClaims(ctx context.Context, claims *security.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
