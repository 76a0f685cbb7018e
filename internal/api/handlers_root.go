// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"

	"github.com/nexusruntime/nexus/internal/models"
)

// handleRoot identifies the service.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	docs := ""
	if s.cfg.Swagger.Enabled {
		docs = "/swagger/index.html"
	}
	respondJSON(w, http.StatusOK, models.RootResponse{
		Name:    "nexus",
		Version: s.deps.Version,
		DocsURL: docs,
	})
}

// handleHealth is the unauthenticated liveness probe. It reports the
// process is serving, nothing deeper; /system/status carries the
// per-manager view.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Healthy: true})
}
