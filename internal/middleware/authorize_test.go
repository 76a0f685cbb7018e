// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubChecker struct {
	allowed bool
	err     error

	userID     string
	permission string
}

func (s *stubChecker) Check(_ context.Context, userID, permissionID string) (bool, error) {
	s.userID = userID
	s.permission = permissionID
	return s.allowed, s.err
}

func authorizedRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	return req.WithContext(ContextWithClaims(req.Context(), accessClaims(userID)))
}

func TestAuthorizeAllows(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{allowed: true}
	var reached bool
	handler := Authorize(checker, "users.write")(okHandler(&reached))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authorizedRequest("user-1"))

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("allowed request blocked: reached=%v status=%d", reached, rec.Code)
	}
	if checker.userID != "user-1" || checker.permission != "users.write" {
		t.Fatalf("checker saw (%q, %q)", checker.userID, checker.permission)
	}
}

func TestAuthorizeDeniesNamingPermission(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{allowed: false}
	var reached bool
	handler := Authorize(checker, "system.admin")(okHandler(&reached))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authorizedRequest("user-2"))

	if reached {
		t.Fatal("handler reached despite denial")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "system.admin") {
		t.Fatalf("403 body does not name the permission: %s", body)
	}
}

func TestAuthorizeWithoutClaimsIs401(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{allowed: true}
	var reached bool
	handler := Authorize(checker, "users.read")(okHandler(&reached))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))

	if reached {
		t.Fatal("handler reached without authentication")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthorizeCheckerFailure(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{err: errors.New("store unavailable")}
	var reached bool
	handler := Authorize(checker, "users.read")(okHandler(&reached))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authorizedRequest("user-3"))

	if reached {
		t.Fatal("handler reached despite checker failure")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
