// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"context"
	"net/http"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
)

// PermissionChecker answers permission questions for user ids. The
// authz service satisfies it.
type PermissionChecker interface {
	Check(ctx context.Context, userID, permissionID string) (bool, error)
}

// Authorize requires the authenticated user to hold the given
// permission ("resource.action"). It must run after Authenticate; a
// request with no claims in context gets a 401, not a 403, because it
// was never identified in the first place.
func Authorize(checker PermissionChecker, permission string) func(http.Handler) http.Handler {
	logger := logging.Named("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				unauthorized(w)
				return
			}

			allowed, err := checker.Check(r.Context(), claims.UserID(), permission)
			if err != nil {
				logger.Error().
					Err(err).
					Str("user_id", claims.UserID()).
					Str("permission", permission).
					Msg("Authorization check failed")
				writeError(w, http.StatusInternalServerError, errs.KindAPI, "authorization check failed", nil)
				return
			}
			if !allowed {
				logger.Warn().
					Str("user_id", claims.UserID()).
					Str("permission", permission).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("Permission denied")
				writeError(w, http.StatusForbidden, errs.KindSecurity,
					"permission "+permission+" required",
					map[string]any{"permission": permission})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
