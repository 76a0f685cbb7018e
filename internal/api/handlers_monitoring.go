// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/middleware"
	"github.com/nexusruntime/nexus/internal/models"
)

// diagnosticsResponse is the body of GET /monitoring/diagnostics.
type diagnosticsResponse struct {
	UptimeSeconds float64                    `json:"uptime_seconds"`
	GoVersion     string                     `json:"go_version"`
	Goroutines    int                        `json:"goroutines"`
	Memory        memoryStats                `json:"memory"`
	ActiveAlerts  int                        `json:"active_alerts"`
	Metrics       []metricFamilySummary      `json:"metrics"`
	Endpoints     []middleware.EndpointStats `json:"endpoints"`
}

type memoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	HeapObjects     uint64 `json:"heap_objects"`
	GCRuns          uint32 `json:"gc_runs"`
}

// metricFamilySummary condenses one registered metric family. Full
// sample values belong to /metrics; diagnostics only shows what exists.
type metricFamilySummary struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Help   string `json:"help,omitempty"`
	Series int    `json:"series"`
}

// handleAlerts lists alerts, newest first. Resolved history is opt-in.
//
// @Summary List resource alerts
// @Tags Monitoring
// @Security BearerAuth
// @Produce json
// @Param include_resolved query bool false "Include resolved history"
// @Param level query string false "Filter by alert level"
// @Param metric_name query string false "Filter by metric"
// @Success 200 {array} models.Alert
// @Failure 400 {object} models.ErrorResponse
// @Router /monitoring/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "monitor is not available")
		return
	}

	q := r.URL.Query()
	level := models.AlertLevel(q.Get("level"))
	if level != "" && !models.IsValidAlertLevel(level) {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation,
			"invalid alert level "+strconv.Quote(string(level)))
		return
	}
	metric := q.Get("metric_name")

	alerts := s.deps.Monitor.ActiveAlerts()
	if includeResolved(q.Get("include_resolved"), q.Has("include_resolved")) {
		alerts = append(alerts, s.deps.Monitor.ResolvedAlerts()...)
	}

	filtered := make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if level != "" && a.Level != level {
			continue
		}
		if metric != "" && a.MetricName != metric {
			continue
		}
		filtered = append(filtered, a)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	respondJSON(w, http.StatusOK, filtered)
}

// handleDiagnostics snapshots runtime health: process stats, the
// custom metric registry, and per-endpoint latency.
//
// @Summary Runtime diagnostics
// @Tags Monitoring
// @Security BearerAuth
// @Produce json
// @Success 200 {object} diagnosticsResponse
// @Router /monitoring/diagnostics [get]
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "monitor is not available")
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := diagnosticsResponse{
		UptimeSeconds: s.deps.Monitor.Uptime().Seconds(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		Memory: memoryStats{
			AllocBytes:      mem.Alloc,
			TotalAllocBytes: mem.TotalAlloc,
			SysBytes:        mem.Sys,
			HeapObjects:     mem.HeapObjects,
			GCRuns:          mem.NumGC,
		},
		ActiveAlerts: len(s.deps.Monitor.ActiveAlerts()),
		Metrics:      []metricFamilySummary{},
		Endpoints:    s.latency.Stats(),
	}

	families, err := s.deps.Monitor.Registry().Families()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Metric registry gather failed")
	}
	for _, fam := range families {
		resp.Metrics = append(resp.Metrics, metricFamilySummary{
			Name:   fam.GetName(),
			Type:   fam.GetType().String(),
			Help:   fam.GetHelp(),
			Series: len(fam.GetMetric()),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// includeResolved treats a bare ?include_resolved as true, otherwise
// parses the value.
func includeResolved(value string, present bool) bool {
	if !present {
		return false
	}
	if value == "" {
		return true
	}
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
