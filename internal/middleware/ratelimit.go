// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// authRequestsPerMinute caps token grant and refresh attempts per IP.
// It stays fixed even when operators raise the general API budget:
// brute force protection must not loosen along with it.
const authRequestsPerMinute = 10

// RateLimit throttles requests per client IP according to cfg. The
// endpoint label only feeds the rejection metric. Disabled config or a
// zero budget yields a pass-through.
func RateLimit(cfg config.RateLimitConfig, endpoint string) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return passthrough
	}
	return limiter(cfg.RequestsPerMinute, time.Minute, endpoint)
}

// AuthRateLimit is the tighter bucket mounted on /auth. It shares the
// Enabled switch with the general limit so test environments can turn
// throttling off wholesale.
func AuthRateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return passthrough
	}
	return limiter(authRequestsPerMinute, time.Minute, "auth")
}

func limiter(requests int, window time.Duration, endpoint string) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(endpoint).Inc()
			writeError(w, http.StatusTooManyRequests, errs.KindAPI, "rate limit exceeded", nil)
		}),
	)
}

func passthrough(next http.Handler) http.Handler {
	return next
}
