// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/nexusruntime/nexus/internal/config"
)

// corsMaxAge is how long browsers may cache a preflight answer.
const corsMaxAge = 86400

// CORS builds the cross-origin policy from configuration. Origins
// default to none, so cross-origin access always requires an explicit
// opt-in; methods and headers get workable defaults when unset.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
}
