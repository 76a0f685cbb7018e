// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	_ "embed"
	"net/http"
)

// openapiDoc is the hand-maintained API document served to the swagger
// UI. Routes added to the router belong in here too.
//
//go:embed openapi.json
var openapiDoc []byte

// handleOpenAPIDoc serves the embedded OpenAPI document.
func (s *Server) handleOpenAPIDoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiDoc)
}
