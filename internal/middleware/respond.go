// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nexusruntime/nexus/internal/errs"
)

// errorBody mirrors the error shape API handlers produce so rejections
// from this layer are indistinguishable on the wire.
type errorBody struct {
	Error   string         `json:"error"`
	Kind    errs.Kind      `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind errs.Kind, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Kind: kind, Details: details})
}
