// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/store"
)

// handleAuditList queries the audit trail, newest first.
//
// @Summary Query the audit trail
// @Tags System
// @Security BearerAuth
// @Produce json
// @Param user_id query string false "Filter by acting user id"
// @Param action_type query string false "Filter by action type"
// @Param resource_type query string false "Filter by resource type"
// @Param since query string false "RFC 3339 lower bound"
// @Param until query string false "RFC 3339 upper bound"
// @Param limit query int false "Maximum records (default 100)"
// @Success 200 {array} models.AuditLog
// @Failure 400 {object} models.ErrorResponse
// @Router /audit [get]
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "audit trail is not available")
		return
	}

	filter, err := auditFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	entries, err := s.deps.Audit.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func auditFilter(r *http.Request) (store.AuditFilter, error) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		UserID:       q.Get("user_id"),
		ResourceType: q.Get("resource_type"),
	}

	if action := q.Get("action_type"); action != "" {
		if !models.IsValidActionType(models.ActionType(action)) {
			return filter, errs.Newf(errs.KindValidation, "invalid action_type %q", action)
		}
		filter.ActionType = models.ActionType(action)
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, errs.Wrap(errs.KindValidation, "since must be RFC 3339", err)
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, errs.Wrap(errs.KindValidation, "until must be RFC 3339", err)
		}
		filter.Until = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, errs.Newf(errs.KindValidation, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
