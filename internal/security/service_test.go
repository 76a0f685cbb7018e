// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package security

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/store"
)

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		JWT: config.JWTConfig{
			Secret:                   "0123456789abcdef0123456789abcdef",
			Algorithm:                "HS256",
			AccessTokenExpireMinutes: 30,
			RefreshTokenExpireDays:   7,
		},
		PasswordPolicy: testPolicy(),
	}
}

type capturedEvents struct {
	mu     sync.Mutex
	events []string
}

func (c *capturedEvents) Publish(eventType, _ string, _ map[string]any) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
	return uuid.New(), nil
}

func (c *capturedEvents) has(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type capturedAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (c *capturedAudit) Record(entry *models.AuditLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *capturedAudit) countAction(action models.ActionType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.ActionType == action {
			n++
		}
	}
	return n
}

type testHarness struct {
	svc    *Service
	store  *store.Store
	events *capturedEvents
	audit  *capturedAudit
}

func newTestService(t *testing.T, cfg config.SecurityConfig) *testHarness {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{Type: store.BackendMemory})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	events := &capturedEvents{}
	aud := &capturedAudit{}
	svc, err := NewService(cfg, st.Users, st.Tokens, aud, events)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return &testHarness{svc: svc, store: st, events: events, audit: aud}
}

func mustCreateUser(t *testing.T, svc *Service, username, password string) *models.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Roles:    []string{models.RoleUser},
	}, nil)
	if err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return u
}

func TestAuthRoundTripWithRevocation(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "alice", "Str0ng!Passphrase")

	pair, authedUser, err := h.svc.Authenticate(ctx, "alice", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if authedUser.ID != user.ID {
		t.Fatal("authenticated a different user")
	}
	if pair.TokenType != "bearer" || pair.ExpiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !h.events.has(EventUserLogin) {
		t.Fatal("user_login event not published")
	}

	claims, err := h.svc.VerifyToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Subject != user.ID.String() || claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("claims missing jti")
	}

	if err := h.svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	// The refresh token survives the access revocation.
	newPair, err := h.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, newPair.AccessToken); err != nil {
		t.Fatalf("refreshed access token rejected: %v", err)
	}
	if newPair.RefreshToken != pair.RefreshToken {
		t.Fatal("refresh token rotated although rotation is disabled")
	}

	// last_login was recorded.
	stored, err := h.svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatal("last_login not updated")
	}
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	mustCreateUser(t, h.svc, "bob", "Str0ng!Passphrase")

	inactive := false
	if _, err := h.svc.UpdateUser(ctx, mustCreateUser(t, h.svc, "carol", "Str0ng!Passphrase").ID,
		UpdateUserParams{Active: &inactive}, nil); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	cases := []struct {
		name     string
		user     string
		password string
	}{
		{"unknown user", "nobody", "Str0ng!Passphrase"},
		{"wrong password", "bob", "Wr0ng!Passphrase"},
		{"inactive account", "carol", "Str0ng!Passphrase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pair, user, err := h.svc.Authenticate(ctx, tc.user, tc.password, nil)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
			if pair != nil || user != nil {
				t.Fatal("failure leaked a token or user")
			}
			if !errs.IsKind(err, errs.KindSecurity) {
				t.Fatalf("expected security kind, got %v", errs.KindOf(err))
			}
		})
	}
}

func TestAuthenticateByEmail(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	mustCreateUser(t, h.svc, "dave", "Str0ng!Passphrase")

	if _, _, err := h.svc.Authenticate(context.Background(), "DAVE@example.com", "Str0ng!Passphrase", nil); err != nil {
		t.Fatalf("Authenticate by email failed: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()

	cases := []struct {
		name string
		p    CreateUserParams
	}{
		{"short username", CreateUserParams{Username: "ab", Email: "a@b.com", Password: "Str0ng!Passphrase"}},
		{"bad username chars", CreateUserParams{Username: "has space", Email: "a@b.com", Password: "Str0ng!Passphrase"}},
		{"bad email", CreateUserParams{Username: "valid", Email: "not-an-email", Password: "Str0ng!Passphrase"}},
		{"unknown role", CreateUserParams{Username: "valid", Email: "a@b.com", Password: "Str0ng!Passphrase", Roles: []string{"root"}}},
		{"weak password", CreateUserParams{Username: "valid", Email: "a@b.com", Password: "weak"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.CreateUser(ctx, tc.p, nil); !errs.IsKind(err, errs.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	mustCreateUser(t, h.svc, "erin", "Str0ng!Passphrase")
	_, err := h.svc.CreateUser(ctx, CreateUserParams{
		Username: "ERIN", Email: "other@example.com", Password: "Str0ng!Passphrase",
	}, nil)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRefreshRequiresRefreshToken(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	mustCreateUser(t, h.svc, "frank", "Str0ng!Passphrase")

	pair, _, err := h.svc.Authenticate(ctx, "frank", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if _, err := h.svc.Refresh(ctx, pair.AccessToken); err == nil {
		t.Fatal("Refresh accepted an access token")
	}
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	cfg := testSecurityConfig()
	cfg.JWT.RotateRefreshTokens = true
	h := newTestService(t, cfg)
	ctx := context.Background()
	mustCreateUser(t, h.svc, "grace", "Str0ng!Passphrase")

	pair, _, err := h.svc.Authenticate(ctx, "grace", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	rotated, err := h.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := h.svc.VerifyToken(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old refresh token still valid: %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated refresh token rejected: %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "henry", "Str0ng!Passphrase")

	p1, _, err := h.svc.Authenticate(ctx, "henry", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	p2, _, err := h.svc.Authenticate(ctx, "henry", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	n, err := h.svc.RevokeAllForUser(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 4 { // two access + two refresh
		t.Fatalf("revoked %d tokens, want 4", n)
	}
	for _, token := range []string{p1.AccessToken, p2.AccessToken, p1.RefreshToken, p2.RefreshToken} {
		if _, err := h.svc.VerifyToken(ctx, token); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("token survived revoke-all: %v", err)
		}
	}
	if !h.events.has(EventTokensRevoked) {
		t.Fatal("tokens_revoked event not published")
	}
}

func TestPasswordChangeRevokesTokens(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "irene", "Str0ng!Passphrase")

	pair, _, err := h.svc.Authenticate(ctx, "irene", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	newPassword := "An0ther!Passphrase"
	if _, err := h.svc.UpdateUser(ctx, user.ID, UpdateUserParams{Password: &newPassword}, nil); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("token survived password change: %v", err)
	}

	// Old password no longer works, new one does.
	if _, _, err := h.svc.Authenticate(ctx, "irene", "Str0ng!Passphrase", nil); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := h.svc.Authenticate(ctx, "irene", newPassword, nil); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestJWTConfigChangeInvalidatesEverything(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "judy", "Str0ng!Passphrase")

	pair, _, err := h.svc.Authenticate(ctx, "judy", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	newCfg := testSecurityConfig().JWT
	newCfg.Secret = "ffffffffffffffffffffffffffffffff"
	if err := h.svc.ApplyJWTConfig(newCfg); err != nil {
		t.Fatalf("ApplyJWTConfig failed: %v", err)
	}

	// Old signatures fail under the new secret.
	if _, err := h.svc.VerifyToken(ctx, pair.AccessToken); err == nil {
		t.Fatal("token signed with the old secret still verifies")
	}
	// The sweep cleared the active set.
	active, err := h.store.Tokens.ActiveForUser(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("ActiveForUser failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active set not cleared: %v", active)
	}

	// Fresh logins work under the new material.
	if _, _, err := h.svc.Authenticate(ctx, "judy", "Str0ng!Passphrase", nil); err != nil {
		t.Fatalf("Authenticate after rotation failed: %v", err)
	}
}

func TestApplyJWTConfigSameMaterialIsNoop(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	mustCreateUser(t, h.svc, "kevin", "Str0ng!Passphrase")

	pair, _, err := h.svc.Authenticate(ctx, "kevin", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := h.svc.ApplyJWTConfig(testSecurityConfig().JWT); err != nil {
		t.Fatalf("ApplyJWTConfig failed: %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("token revoked although material did not change: %v", err)
	}
}

func TestVerifyTokenExpiry(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "laura", "Str0ng!Passphrase")

	// Issue a token that expired half an hour ago.
	sg := h.svc.currentSigner()
	expired, _, err := sg.issue(user.ID.String(), TokenTypeAccess, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := h.svc.VerifyToken(ctx, expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	// Revocation paths may skip the expiry check.
	if _, err := h.svc.VerifyToken(ctx, expired, SkipExpiry()); err != nil {
		t.Fatalf("SkipExpiry verification failed: %v", err)
	}
}

func TestVerifyRejectsForeignAlgorithm(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	mustCreateUser(t, h.svc, "mallory", "Str0ng!Passphrase")

	foreign, err := newSigner(config.JWTConfig{
		Secret:    "0123456789abcdef0123456789abcdef",
		Algorithm: "HS512",
	})
	if err != nil {
		t.Fatalf("newSigner failed: %v", err)
	}
	token, _, err := foreign.issue(uuid.NewString(), TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := h.svc.VerifyToken(context.Background(), token); err == nil {
		t.Fatal("HS512 token accepted by an HS256 service")
	}
}

func TestBootstrapCreatesAdminOnce(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()

	admin, password, err := h.svc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if admin == nil || password == "" {
		t.Fatal("Bootstrap did not create the admin account")
	}
	if !admin.HasRole(models.RoleAdmin) {
		t.Fatalf("bootstrap user roles = %v", admin.Roles)
	}
	if _, _, err := h.svc.Authenticate(ctx, bootstrapAdminUser, password, nil); err != nil {
		t.Fatalf("generated password rejected: %v", err)
	}

	again, pw, err := h.svc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}
	if again != nil || pw != "" {
		t.Fatal("Bootstrap ran twice on a populated store")
	}
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	t.Parallel()

	cfg := testSecurityConfig()
	cfg.JWT.Algorithm = "RS256"
	st, err := store.Open(config.DatabaseConfig{Type: store.BackendMemory})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	if _, err := NewService(cfg, st.Users, st.Tokens, nil, nil); !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAuditTrailOnAuth(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	mustCreateUser(t, h.svc, "nancy", "Str0ng!Passphrase")

	if _, _, err := h.svc.Authenticate(ctx, "nancy", "Str0ng!Passphrase", &Actor{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	_, _, _ = h.svc.Authenticate(ctx, "nancy", "wrong", nil)

	if got := h.audit.countAction(models.ActionLogin); got != 2 {
		t.Fatalf("login audit entries = %d, want 2 (one success, one failure)", got)
	}
	if got := h.audit.countAction(models.ActionCreate); got != 1 {
		t.Fatalf("create audit entries = %d, want 1", got)
	}
}

func TestAuthEventLogsMaskIdentifiers(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "alice", "Str0ng!Passphrase")

	var buf bytes.Buffer
	h.svc.seclog = logging.NewSecurityLoggerWithLogger(logging.NewTestLogger(&buf))

	_, _, err := h.svc.Authenticate(ctx, "alice", "wrong-password",
		&Actor{IP: "203.0.113.9", UserAgent: "test-agent"})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Authenticate = %v, want ErrAuthenticationFailed", err)
	}
	out := buf.String()
	if !strings.Contains(out, "login_failed") {
		t.Fatalf("failure log missing login_failed event: %s", out)
	}
	if strings.Contains(out, "alice") {
		t.Errorf("failure log leaks the submitted identifier: %s", out)
	}
	if !strings.Contains(out, "al***") {
		t.Errorf("failure log should carry the masked identifier: %s", out)
	}
	if !strings.Contains(out, "203.0.113.9") {
		t.Errorf("failure log should carry the client address: %s", out)
	}

	buf.Reset()
	pair, _, err := h.svc.Authenticate(ctx, "alice", "Str0ng!Passphrase", nil)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "login_success") {
		t.Fatalf("success log missing login_success event: %s", out)
	}
	if strings.Contains(out, "alice") || strings.Contains(out, user.ID.String()) {
		t.Errorf("success log leaks an unmasked identifier: %s", out)
	}

	buf.Reset()
	if err := h.svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !strings.Contains(buf.String(), "token_revoked") {
		t.Errorf("revocation log missing token_revoked event: %s", buf.String())
	}
}

func TestRevokeAllLogsReason(t *testing.T) {
	t.Parallel()

	h := newTestService(t, testSecurityConfig())
	ctx := context.Background()
	user := mustCreateUser(t, h.svc, "bob", "Str0ng!Passphrase")
	if _, _, err := h.svc.Authenticate(ctx, "bob", "Str0ng!Passphrase", nil); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	var buf bytes.Buffer
	h.svc.seclog = logging.NewSecurityLoggerWithLogger(logging.NewTestLogger(&buf))

	newPassword := "An0ther!Passphrase"
	if _, err := h.svc.UpdateUser(ctx, user.ID, UpdateUserParams{Password: &newPassword}, nil); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "tokens_revoked_all") {
		t.Fatalf("password change should log a revoke-all event: %s", out)
	}
	if !strings.Contains(out, "password changed") {
		t.Errorf("revoke-all log should carry the reason: %s", out)
	}
}
