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

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexusruntime/nexus/internal/security"
)

type stubVerifier struct {
	claims *security.Claims
	err    error
	tokens []string
}

func (s *stubVerifier) VerifyToken(_ context.Context, token string, _ ...security.VerifyOption) (*security.Claims, error) {
	s.tokens = append(s.tokens, token)
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func accessClaims(userID string) *security.Claims {
	return &security.Claims{
		TokenType:        security.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
}

// okHandler records whether the chain reached it.
func okHandler(reached *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateAcceptsBearerHeader(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{claims: accessClaims("user-1")}
	var userID string
	handler := Authenticate(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if userID != "user-1" {
		t.Fatalf("handler saw user %q, want user-1", userID)
	}
	if len(verifier.tokens) != 1 || verifier.tokens[0] != "token-abc" {
		t.Fatalf("verifier saw tokens %v", verifier.tokens)
	}
}

func TestAuthenticateAcceptsQueryToken(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{claims: accessClaims("user-2")}
	var reached bool
	handler := Authenticate(verifier)(okHandler(&reached))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/ws?access_token=ws-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached {
		t.Fatal("handler never reached")
	}
	if verifier.tokens[0] != "ws-token" {
		t.Fatalf("verifier saw %q, want ws-token", verifier.tokens[0])
	}
}

func TestAuthenticateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decorate func(*http.Request)
		verifier *stubVerifier
	}{
		{
			name:     "missing credentials",
			decorate: func(r *http.Request) {},
			verifier: &stubVerifier{claims: accessClaims("u")},
		},
		{
			name: "wrong scheme",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			verifier: &stubVerifier{claims: accessClaims("u")},
		},
		{
			name: "verifier rejects",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer expired")
			},
			verifier: &stubVerifier{err: errors.New("token has expired")},
		},
		{
			name: "refresh token is not api credential",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer refresh")
			},
			verifier: &stubVerifier{claims: &security.Claims{
				TokenType:        security.TokenTypeRefresh,
				RegisteredClaims: jwt.RegisteredClaims{Subject: "u"},
			}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var reached bool
			handler := Authenticate(tc.verifier)(okHandler(&reached))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			tc.decorate(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if reached {
				t.Fatal("handler reached despite rejection")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Fatalf("WWW-Authenticate = %q, want Bearer", got)
			}
			// All rejections read identically on the wire.
			if !strings.Contains(rec.Body.String(), "authentication required") {
				t.Fatalf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestAuthenticateCaseInsensitiveScheme(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{claims: accessClaims("user-3")}
	var reached bool
	handler := Authenticate(verifier)(okHandler(&reached))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer lower-scheme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("lowercase scheme rejected: reached=%v status=%d", reached, rec.Code)
	}
}

func TestClaimsRoundTrip(t *testing.T) {
	t.Parallel()

	claims := accessClaims("user-9")
	ctx := ContextWithClaims(context.Background(), claims)

	got, ok := ClaimsFrom(ctx)
	if !ok || got.UserID() != "user-9" {
		t.Fatalf("ClaimsFrom = %+v, %v", got, ok)
	}
	if UserIDFrom(context.Background()) != "" {
		t.Fatal("anonymous context produced a user id")
	}
}
