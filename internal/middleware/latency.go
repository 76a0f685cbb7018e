// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"net/http"
	"sort"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nexusruntime/nexus/internal/logging"
)

const (
	// defaultWindowSize bounds the sample ring when the caller passes 0.
	defaultWindowSize = 1024

	// slowRequestThreshold is where a request earns a warning log.
	slowRequestThreshold = time.Second
)

type sample struct {
	key      string
	status   int
	duration time.Duration
}

// LatencyWindow keeps a fixed ring of recent request timings and
// aggregates them per endpoint. The diagnostics endpoint reports its
// Stats; Prometheus histograms remain the long-term record, this window
// answers "what is slow right now" without a scrape.
type LatencyWindow struct {
	mu      sync.RWMutex
	samples []sample
	next    int
	filled  bool
}

// NewLatencyWindow creates a window holding the last size requests.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &LatencyWindow{samples: make([]sample, size)}
}

// EndpointStats aggregates the window's samples for one endpoint.
type EndpointStats struct {
	Endpoint string  `json:"endpoint"`
	Requests int64   `json:"requests"`
	Errors   int64   `json:"errors"`
	AvgMS    float64 `json:"avg_ms"`
	P50MS    int64   `json:"p50_ms"`
	P95MS    int64   `json:"p95_ms"`
	P99MS    int64   `json:"p99_ms"`
	MaxMS    int64   `json:"max_ms"`
}

// Middleware records every request into the window and warns about the
// slow ones.
func (lw *LatencyWindow) Middleware(next http.Handler) http.Handler {
	logger := logging.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		lw.Record(r.Method, endpointLabel(r), statusOf(ww), duration)

		if duration > slowRequestThreshold {
			logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", duration).
				Msg("Slow request")
		}
	})
}

// Record adds one observation to the ring, evicting the oldest once the
// window is full.
func (lw *LatencyWindow) Record(method, endpoint string, status int, duration time.Duration) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.samples[lw.next] = sample{key: method + " " + endpoint, status: status, duration: duration}
	lw.next++
	if lw.next == len(lw.samples) {
		lw.next = 0
		lw.filled = true
	}
}

// Stats aggregates the current window per endpoint, busiest first.
func (lw *LatencyWindow) Stats() []EndpointStats {
	lw.mu.RLock()
	n := lw.next
	if lw.filled {
		n = len(lw.samples)
	}
	grouped := make(map[string][]sample)
	for _, s := range lw.samples[:n] {
		grouped[s.key] = append(grouped[s.key], s)
	}
	lw.mu.RUnlock()

	stats := make([]EndpointStats, 0, len(grouped))
	for key, group := range grouped {
		durations := make([]int64, len(group))
		var sum, errors int64
		for i, s := range group {
			durations[i] = s.duration.Milliseconds()
			sum += durations[i]
			if s.status >= http.StatusInternalServerError {
				errors++
			}
		}
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

		stats = append(stats, EndpointStats{
			Endpoint: key,
			Requests: int64(len(group)),
			Errors:   errors,
			AvgMS:    float64(sum) / float64(len(group)),
			P50MS:    percentile(durations, 0.50),
			P95MS:    percentile(durations, 0.95),
			P99MS:    percentile(durations, 0.99),
			MaxMS:    durations[len(durations)-1],
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Requests != stats[j].Requests {
			return stats[i].Requests > stats[j].Requests
		}
		return stats[i].Endpoint < stats[j].Endpoint
	})
	return stats
}

// percentile reads the p-th value from an ascending-sorted slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}
