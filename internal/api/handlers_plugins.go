// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
)

// loadPluginRequest is the optional body of the load action. An empty
// path loads a built-in; an empty isolation level takes the configured
// default.
type loadPluginRequest struct {
	Path           string `json:"path,omitempty"`
	IsolationLevel string `json:"isolation_level,omitempty" validate:"omitempty,isolation_level"`
}

// handleListPlugins returns descriptors for every loaded plugin.
//
// @Summary List plugins
// @Tags Plugins
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.PluginInfo
// @Router /plugins [get]
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plugins == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "plugin manager is not available")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Plugins.List())
}

// handleGetPlugin returns one plugin descriptor.
func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plugins == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "plugin manager is not available")
		return
	}
	name := chi.URLParam(r, "name")
	info, err := s.deps.Plugins.Info(name)
	if err != nil {
		respondErrorMsg(w, http.StatusNotFound, errs.KindPluginIsolation, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handlePluginAction dispatches load, unload, enable and disable.
//
// @Summary Manage a plugin
// @Tags Plugins
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param name path string true "Plugin id"
// @Param action path string true "One of load, unload, enable, disable"
// @Success 200 {object} models.PluginInfo
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /plugins/{name}/{action} [post]
func (s *Server) handlePluginAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plugins == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "plugin manager is not available")
		return
	}
	name := chi.URLParam(r, "name")
	action := chi.URLParam(r, "action")

	switch action {
	case "load":
		s.loadPlugin(w, r, name)
	case "unload":
		if !s.pluginExists(w, name) {
			return
		}
		if err := s.deps.Plugins.Unload(r.Context(), name); err != nil {
			respondError(w, err)
			return
		}
		s.recordAudit(r, models.ActionPlugin, "plugin", name, "plugin unloaded")
		respondJSON(w, http.StatusNoContent, nil)
	case "enable", "disable":
		if !s.pluginExists(w, name) {
			return
		}
		var err error
		if action == "enable" {
			err = s.deps.Plugins.Enable(name)
		} else {
			err = s.deps.Plugins.Disable(name)
		}
		if err != nil {
			respondError(w, err)
			return
		}
		s.recordAudit(r, models.ActionPlugin, "plugin", name, "plugin "+action+"d")
		s.respondPluginInfo(w, name)
	default:
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation,
			"unknown plugin action "+strconv.Quote(action)+" (expected load, unload, enable or disable)")
	}
}

func (s *Server) loadPlugin(w http.ResponseWriter, r *http.Request, name string) {
	var req loadPluginRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
	}
	level := models.IsolationLevel(req.IsolationLevel)
	if err := s.deps.Plugins.Load(r.Context(), name, req.Path, level); err != nil {
		respondError(w, err)
		return
	}
	s.recordAudit(r, models.ActionPlugin, "plugin", name, "plugin loaded")
	s.respondPluginInfo(w, name)
}

func (s *Server) pluginExists(w http.ResponseWriter, name string) bool {
	if _, err := s.deps.Plugins.Info(name); err != nil {
		respondErrorMsg(w, http.StatusNotFound, errs.KindPluginIsolation, err.Error())
		return false
	}
	return true
}

func (s *Server) respondPluginInfo(w http.ResponseWriter, name string) {
	info, err := s.deps.Plugins.Info(name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}
