// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/registry"
)

// redactedValue replaces secret config values on reads.
const redactedValue = "********"

// configValueResponse is the body of config reads and writes.
type configValueResponse struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

// systemStatusResponse is the body of GET /system/status.
type systemStatusResponse struct {
	Healthy       bool              `json:"healthy"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Backend       string            `json:"backend,omitempty"`
	Managers      []registry.Status `json:"managers"`
}

// handleGetConfig reads one effective configuration value. Secrets come
// back masked; the path itself confirms the value exists.
//
// @Summary Read a configuration value
// @Tags System
// @Security BearerAuth
// @Produce json
// @Param path path string true "Config path, slash or dot separated"
// @Success 200 {object} configValueResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /system/config/{path} [get]
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	path, ok := configPath(w, r)
	if !ok {
		return
	}
	if !s.deps.Config.Exists(path) {
		respondErrorMsg(w, http.StatusNotFound, errs.KindConfiguration, "no configuration at "+path)
		return
	}

	resp := configValueResponse{Path: path, Value: s.deps.Config.Get(path)}
	if s.isSecret(r, path) {
		resp.Value = redactedValue
		resp.Secret = true
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSetConfig validates and applies one configuration mutation,
// then persists it as a SystemSetting so it survives restarts.
//
// @Summary Change a configuration value
// @Tags System
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200 {object} configValueResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /system/config/{path} [put]
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	path, ok := configPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if !s.editable(r, path) {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, path+" is not editable at runtime")
		return
	}

	if err := s.deps.Config.Set(path, req.Value); err != nil {
		respondError(w, err)
		return
	}
	s.persistSetting(r, path, req.Value)
	s.recordAudit(r, models.ActionConfig, "config", path, "configuration changed")

	resp := configValueResponse{Path: path, Value: req.Value}
	if s.isSecret(r, path) {
		resp.Value = redactedValue
		resp.Secret = true
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatus reports per-manager health plus process identity.
//
// @Summary Runtime status
// @Tags System
// @Security BearerAuth
// @Produce json
// @Success 200 {object} systemStatusResponse
// @Router /system/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := systemStatusResponse{
		Healthy:  true,
		Version:  s.deps.Version,
		Managers: []registry.Status{},
	}
	if s.deps.Registry != nil {
		resp.Healthy = s.deps.Registry.Healthy()
		resp.Managers = s.deps.Registry.Statuses()
	}
	if s.deps.Monitor != nil {
		resp.UptimeSeconds = s.deps.Monitor.Uptime().Seconds()
	}
	if s.deps.Store != nil {
		resp.Backend = s.deps.Store.Backend()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleBackup snapshots the store into files.backup_directory.
//
// @Summary Back up the database
// @Tags System
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} models.ErrorResponse
// @Router /system/backup [post]
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "store is not available")
		return
	}
	dir := s.deps.Config.String("files.backup_directory")
	path, err := s.deps.Store.Backup(r.Context(), dir)
	if err != nil {
		respondError(w, err)
		return
	}
	s.recordAudit(r, models.ActionSystem, "database", "", "backup written to "+path)
	respondJSON(w, http.StatusOK, map[string]string{
		"path":    path,
		"backend": s.deps.Store.Backend(),
	})
}

// configPath resolves the wildcard segment to a dotted config path.
// Both /system/config/api/port and /system/config/api.port address
// api.port.
func configPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, "config path is required")
		return "", false
	}
	return strings.ReplaceAll(raw, "/", "."), true
}

// isSecret combines the persisted IsSecret flag with a name heuristic,
// so secrets stay masked even before anyone has written their setting
// record.
func (s *Server) isSecret(r *http.Request, path string) bool {
	if secretName(path) {
		return true
	}
	if s.deps.Store == nil {
		return false
	}
	setting, err := s.deps.Store.Settings.Get(r.Context(), path)
	return err == nil && setting.IsSecret
}

// editable consults the persisted setting record; paths without one are
// editable by default.
func (s *Server) editable(r *http.Request, path string) bool {
	if s.deps.Store == nil {
		return true
	}
	setting, err := s.deps.Store.Settings.Get(r.Context(), path)
	if err != nil {
		return true
	}
	return setting.IsEditable
}

func (s *Server) persistSetting(r *http.Request, path string, value any) {
	if s.deps.Store == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Setting not persisted")
		return
	}
	err = s.deps.Store.Settings.Set(r.Context(), &models.SystemSetting{
		Key:        path,
		Value:      raw,
		IsSecret:   secretName(path),
		IsEditable: true,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Setting not persisted")
	}
}

// secretName reports whether the last path segment names a credential.
func secretName(path string) bool {
	last := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		last = path[i+1:]
	}
	last = strings.ToLower(last)
	for _, marker := range []string{"secret", "password", "token", "key"} {
		if strings.Contains(last, marker) {
			return true
		}
	}
	return false
}

// recordAudit writes one API-level audit entry. Auth and user CRUD
// entries come from the security core instead, so they are not
// duplicated here.
func (s *Server) recordAudit(r *http.Request, action models.ActionType, resourceType, resourceID, description string) {
	if s.deps.Audit == nil {
		return
	}
	a := s.actor(r)
	s.deps.Audit.Record(&models.AuditLog{
		UserID:       a.ID,
		UserName:     a.Username,
		ActionType:   action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  description,
		IPAddress:    a.IP,
		UserAgent:    a.UserAgent,
	})
}
