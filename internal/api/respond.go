// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/security"
	"github.com/nexusruntime/nexus/internal/store"
	"github.com/nexusruntime/nexus/internal/validation"
)

// respondJSON writes payload with the given status. Encoding failures
// are logged; by then the status line is already on the wire.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger := logging.Named("api")
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError maps err onto a status code and the shared error body.
// Unclassified errors are masked as a plain 500 so internals never
// reach the client.
func respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	kind := errs.KindOf(err)
	if kind == "" {
		respondJSON(w, status, models.ErrorResponse{
			Error: "internal server error",
			Kind:  string(errs.KindAPI),
		})
		return
	}

	body := models.ErrorResponse{Error: err.Error(), Kind: string(kind)}
	var structured *errs.Error
	if errors.As(err, &structured) {
		body.Details = structured.Details
	}
	respondJSON(w, status, body)
}

// respondErrorMsg writes an error body without an error value behind it.
func respondErrorMsg(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message, Kind: string(kind)})
}

// statusForError picks the HTTP status. Sentinels first, then kinds.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, security.ErrAuthenticationFailed),
		errors.Is(err, security.ErrTokenExpired),
		errors.Is(err, security.ErrTokenRevoked):
		return http.StatusUnauthorized
	}

	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindConfiguration:
		return http.StatusBadRequest
	case errs.KindSecurity:
		return http.StatusUnauthorized
	case errs.KindDependency, errs.KindPluginIsolation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded request body into dst, rejecting unknown
// fields so typos fail loudly instead of being dropped, then enforces
// the struct's validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.KindValidation, "request body is empty")
		}
		return errs.Wrap(errs.KindValidation, "malformed request body", err)
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		fields := make([]map[string]any, 0, len(verr.Errors()))
		for _, fe := range verr.Errors() {
			fields = append(fields, map[string]any{
				"field": fe.Field(),
				"tag":   fe.Tag(),
			})
		}
		return errs.New(errs.KindValidation, verr.Error()).WithDetail("fields", fields)
	}
	return nil
}
