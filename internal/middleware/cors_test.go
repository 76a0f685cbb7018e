// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusruntime/nexus/internal/config"
)

func preflight(handler http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	handler := CORS(config.CORSConfig{Origins: []string{"https://ui.example.com"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := preflight(handler, "https://ui.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	t.Parallel()

	handler := CORS(config.CORSConfig{Origins: []string{"https://ui.example.com"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := preflight(handler, "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin allowed: %q", got)
	}
}

func TestCORSDefaultDeniesEverything(t *testing.T) {
	t.Parallel()

	handler := CORS(config.CORSConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := preflight(handler, "https://anywhere.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("empty config allowed origin: %q", got)
	}
}

func TestCORSDoesNotBlockSameOriginTraffic(t *testing.T) {
	t.Parallel()

	var reached bool
	handler := CORS(config.CORSConfig{})(okHandler(&reached))

	// No Origin header: a plain same-origin request.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("same-origin request blocked: reached=%v status=%d", reached, rec.Code)
	}
}
