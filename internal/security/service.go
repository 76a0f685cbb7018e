// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package security implements the security core: accounts, password
// policy, JWT issuance and verification, and revocation state.
//
// Every authentication failure collapses into the one generic
// ErrAuthenticationFailed so callers cannot probe which step rejected
// them. Authorization (roles to permissions) lives in internal/authz;
// this package only answers who a user is and which roles they hold.
package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/store"
)

// Event types published by the security core.
const (
	EventUserLogin     = "security/user_login"
	EventUserCreated   = "security/user_created"
	EventUserUpdated   = "security/user_updated"
	EventUserDeleted   = "security/user_deleted"
	EventTokensRevoked = "security/tokens_revoked"
)

const (
	eventSource     = "security"
	cleanupInterval = 10 * time.Minute

	// bootstrapAdminUser is created on first start when the user store
	// is empty, with a random generated password.
	bootstrapAdminUser  = "admin"
	bootstrapAdminEmail = "admin@localhost"
)

// ErrAuthenticationFailed is returned for every failed authentication,
// regardless of cause.
var ErrAuthenticationFailed = errs.New(errs.KindSecurity, "authentication failed")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,32}$`)

// EventPublisher is the slice of the event bus the security core needs.
type EventPublisher interface {
	Publish(eventType, source string, payload map[string]any) (uuid.UUID, error)
}

// Auditor records security-relevant actions on the audit trail.
type Auditor interface {
	Record(entry *models.AuditLog)
}

// Actor identifies who performs an administrative action, for audit
// attribution. A nil *Actor means the system itself.
type Actor struct {
	ID        string
	Username  string
	IP        string
	UserAgent string
}

// TokenPair is the result of authentication or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// CreateUserParams are the inputs to CreateUser. Roles defaults to
// viewer, Active to true.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	Roles    []string
	Active   *bool
	Metadata map[string]any
}

// UpdateUserParams are the optional changes applied by UpdateUser; nil
// fields are left untouched.
type UpdateUserParams struct {
	Username *string
	Email    *string
	Password *string
	Roles    []string
	Active   *bool
	Metadata map[string]any
}

// Service is the security core. Signer and policy swap atomically
// under mu when the configuration changes at runtime.
type Service struct {
	users  store.UserStore
	tokens store.TokenStore
	audit  Auditor
	events EventPublisher

	mu            sync.RWMutex
	signer        *signer
	policy        config.PasswordPolicyConfig
	rotateRefresh bool

	dummyHash string
	logger    zerolog.Logger
	seclog    *logging.SecurityLogger
}

// NewService wires the security core. audit and events may be nil in
// tests; production passes the recorder and the bus.
func NewService(cfg config.SecurityConfig, users store.UserStore, tokens store.TokenStore, aud Auditor, events EventPublisher) (*Service, error) {
	sg, err := newSigner(cfg.JWT)
	if err != nil {
		return nil, err
	}

	dummy, err := dummyDigest(uuid.NewString())
	if err != nil {
		return nil, err
	}

	return &Service{
		users:         users,
		tokens:        tokens,
		audit:         aud,
		events:        events,
		signer:        sg,
		policy:        cfg.PasswordPolicy,
		rotateRefresh: cfg.JWT.RotateRefreshTokens,
		dummyHash:     dummy,
		logger:        logging.Named("security"),
		seclog:        logging.NewSecurityLogger(),
	}, nil
}

func (s *Service) currentSigner() *signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

func (s *Service) currentPolicy() config.PasswordPolicyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Bootstrap creates the initial admin account when the store is empty.
// It returns the generated password exactly once; it is never
// persisted in clear anywhere else.
func (s *Service) Bootstrap(ctx context.Context) (*models.User, string, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return nil, "", err
	}
	if n > 0 {
		return nil, "", nil
	}

	password, err := generatePassword(24)
	if err != nil {
		return nil, "", err
	}
	user, err := s.CreateUser(ctx, CreateUserParams{
		Username: bootstrapAdminUser,
		Email:    bootstrapAdminEmail,
		Password: password,
		Roles:    []string{models.RoleAdmin},
	}, nil)
	if err != nil {
		return nil, "", err
	}
	s.logger.Warn().
		Str("username", user.Username).
		Msg("created initial admin account; change its password immediately")
	return user, password, nil
}

// CreateUser validates, hashes, and persists a new account.
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams, actor *Actor) (*models.User, error) {
	if !usernamePattern.MatchString(p.Username) {
		return nil, errs.New(errs.KindValidation,
			"username must be 3-32 characters of letters, digits, dot, underscore, or hyphen")
	}
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return nil, err
	}
	roles := p.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleViewer}
	}
	for _, r := range roles {
		if !models.IsValidRole(r) {
			return nil, errs.Newf(errs.KindValidation, "unknown role %q", r)
		}
	}

	check := CheckPassword(s.currentPolicy(), p.Username, p.Password)
	if !check.Valid {
		return nil, errs.New(errs.KindValidation, "password does not meet the policy").
			WithDetail("errors", check.Errors)
	}
	hash, err := HashPassword(p.Password, s.currentPolicy().BcryptCost)
	if err != nil {
		return nil, err
	}

	active := true
	if p.Active != nil {
		active = *p.Active
	}
	user := &models.User{
		ID:             uuid.New(),
		Username:       p.Username,
		Email:          email,
		HashedPassword: hash,
		Roles:          roles,
		Active:         active,
		CreatedAt:      time.Now().UTC(),
		Metadata:       p.Metadata,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.recordAction(actor, models.ActionCreate, "user", user.ID.String(), "user created")
	s.publish(EventUserCreated, map[string]any{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
	s.logger.Info().Str("username", user.Username).Msg("user created")
	return user.Clone(), nil
}

// UpdateUser applies the non-nil fields. A password change or a
// deactivation revokes all outstanding tokens for the account.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, p UpdateUserParams, actor *Actor) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	revokeReason := ""
	if p.Username != nil {
		if !usernamePattern.MatchString(*p.Username) {
			return nil, errs.New(errs.KindValidation,
				"username must be 3-32 characters of letters, digits, dot, underscore, or hyphen")
		}
		user.Username = *p.Username
	}
	if p.Email != nil {
		email, err := normalizeEmail(*p.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if len(p.Roles) > 0 {
		for _, r := range p.Roles {
			if !models.IsValidRole(r) {
				return nil, errs.Newf(errs.KindValidation, "unknown role %q", r)
			}
		}
		user.Roles = append([]string(nil), p.Roles...)
	}
	if p.Password != nil {
		check := CheckPassword(s.currentPolicy(), user.Username, *p.Password)
		if !check.Valid {
			return nil, errs.New(errs.KindValidation, "password does not meet the policy").
				WithDetail("errors", check.Errors)
		}
		hash, err := HashPassword(*p.Password, s.currentPolicy().BcryptCost)
		if err != nil {
			return nil, err
		}
		user.HashedPassword = hash
		revokeReason = "password changed"
	}
	if p.Active != nil {
		if user.Active && !*p.Active && revokeReason == "" {
			revokeReason = "account deactivated"
		}
		user.Active = *p.Active
	}
	if p.Metadata != nil {
		user.Metadata = p.Metadata
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	if revokeReason != "" {
		if _, err := s.RevokeAllForUser(ctx, user.ID.String()); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).
				Msg("failed to revoke tokens after account change")
		} else {
			s.seclog.LogRevokeAll(user.ID.String(), revokeReason)
		}
	}

	s.recordAction(actor, models.ActionUpdate, "user", user.ID.String(), "user updated")
	s.publish(EventUserUpdated, map[string]any{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
	return user.Clone(), nil
}

// DeleteUser removes the account and revokes its tokens.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID, actor *Actor) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.RevokeAllForUser(ctx, id.String()); err != nil {
		s.logger.Error().Err(err).Str("user_id", id.String()).
			Msg("failed to revoke tokens before delete")
	} else {
		s.seclog.LogRevokeAll(id.String(), "user deleted")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	s.recordAction(actor, models.ActionDelete, "user", id.String(), "user deleted")
	s.publish(EventUserDeleted, map[string]any{
		"user_id":  id.String(),
		"username": user.Username,
	})
	s.logger.Info().Str("username", user.Username).Msg("user deleted")
	return nil
}

// GetUser returns the account by ID.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserByName returns the account by case-insensitive username.
func (s *Service) GetUserByName(ctx context.Context, username string) (*models.User, error) {
	return s.users.GetByUsername(ctx, username)
}

// ListUsers returns all accounts, oldest first.
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.List(ctx)
}

// RolesOf reports the roles held by a user, for the authorization
// layer.
func (s *Service) RolesOf(ctx context.Context, userID string) ([]string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invalid user id", err)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Roles, nil
}

// Authenticate verifies credentials and issues a token pair. Every
// failure path returns ErrAuthenticationFailed with no further detail.
func (s *Service) Authenticate(ctx context.Context, usernameOrEmail, password string, actor *Actor) (*TokenPair, *models.User, error) {
	user, err := s.lookup(ctx, usernameOrEmail)
	if err != nil {
		// Burn comparable work so the miss is not observably faster.
		VerifyPassword(s.dummyHash, password)
		return nil, nil, s.failAuth(actor, usernameOrEmail, "unknown user")
	}
	if !user.Active {
		VerifyPassword(s.dummyHash, password)
		return nil, nil, s.failAuth(actor, usernameOrEmail, "inactive account")
	}
	if !VerifyPassword(user.HashedPassword, password) {
		return nil, nil, s.failAuth(actor, usernameOrEmail, "wrong password")
	}

	pair, err := s.issuePair(ctx, user.ID.String())
	if err != nil {
		s.logger.Error().Err(err).Str("username", user.Username).Msg("token issuance failed")
		return nil, nil, s.failAuth(actor, usernameOrEmail, "issuance failure")
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str("username", user.Username).Msg("failed to record last login")
	}

	metrics.RecordAuthAttempt(true)
	s.recordLogin(user, actor)
	s.publish(EventUserLogin, map[string]any{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
	ip, ua := actorNetwork(actor)
	s.seclog.LogLoginSuccess(user.ID.String(), user.Username, ip, ua)
	return pair, user, nil
}

func (s *Service) lookup(ctx context.Context, usernameOrEmail string) (*models.User, error) {
	if strings.Contains(usernameOrEmail, "@") {
		return s.users.GetByEmail(ctx, usernameOrEmail)
	}
	return s.users.GetByUsername(ctx, usernameOrEmail)
}

func (s *Service) failAuth(actor *Actor, identifier, reason string) error {
	metrics.RecordAuthAttempt(false)
	ip, ua := actorNetwork(actor)
	s.seclog.LogLoginFailure(identifier, ip, ua, reason)
	if s.audit != nil {
		entry := &models.AuditLog{
			ActionType:   models.ActionLogin,
			ResourceType: "session",
			Description:  "authentication failed",
			Details:      mustJSON(map[string]any{"identifier": identifier}),
		}
		if actor != nil {
			entry.IPAddress = actor.IP
			entry.UserAgent = actor.UserAgent
		}
		s.audit.Record(entry)
	}
	return ErrAuthenticationFailed
}

// actorNetwork extracts the caller's network identity, tolerating the
// nil actor the system paths pass.
func actorNetwork(actor *Actor) (ip, userAgent string) {
	if actor == nil {
		return "", ""
	}
	return actor.IP, actor.UserAgent
}

func (s *Service) recordLogin(user *models.User, actor *Actor) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:       user.ID.String(),
		UserName:     user.Username,
		ActionType:   models.ActionLogin,
		ResourceType: "session",
		Description:  "user logged in",
	}
	if actor != nil {
		entry.IPAddress = actor.IP
		entry.UserAgent = actor.UserAgent
	}
	s.audit.Record(entry)
}

// issuePair signs an access and a refresh token and tracks both jtis
// in the per-user active set.
func (s *Service) issuePair(ctx context.Context, userID string) (*TokenPair, error) {
	sg := s.currentSigner()
	now := time.Now().UTC()

	access, accessClaims, err := sg.issue(userID, TokenTypeAccess, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := sg.issue(userID, TokenTypeRefresh, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.AddActive(ctx, userID, accessClaims.ID, sg.accessTTL); err != nil {
		return nil, err
	}
	if err := s.tokens.AddActive(ctx, userID, refreshClaims.ID, sg.refreshTTL); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(sg.accessTTL.Seconds()),
	}, nil
}

// VerifyOption adjusts token verification.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	skipExpiry bool
}

// SkipExpiry accepts expired tokens. Used on revocation paths so an
// expired token can still be cleaned out of the active set.
func SkipExpiry() VerifyOption {
	return func(o *verifyOptions) { o.skipExpiry = true }
}

// VerifyToken checks signature, time claims, and the blacklist, in
// that order.
func (s *Service) VerifyToken(ctx context.Context, tokenString string, opts ...VerifyOption) (*Claims, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	claims, err := s.currentSigner().parse(tokenString, o.skipExpiry)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metrics.RecordTokenVerification("expired")
		} else {
			metrics.RecordTokenVerification("invalid")
		}
		return nil, err
	}

	revoked, err := s.tokens.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		metrics.RecordTokenVerification("error")
		return nil, err
	}
	if revoked {
		metrics.RecordTokenVerification("revoked")
		return nil, ErrTokenRevoked
	}

	metrics.RecordTokenVerification("success")
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token. When
// rotation is enabled the refresh token is replaced and the old one
// revoked; otherwise it is returned unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.VerifyToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, errs.New(errs.KindSecurity, "refresh requires a refresh token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil || !user.Active {
		return nil, ErrAuthenticationFailed
	}

	sg := s.currentSigner()
	now := time.Now().UTC()
	access, accessClaims, err := sg.issue(claims.Subject, TokenTypeAccess, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.AddActive(ctx, claims.Subject, accessClaims.ID, sg.accessTTL); err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(sg.accessTTL.Seconds()),
	}

	s.mu.RLock()
	rotate := s.rotateRefresh
	s.mu.RUnlock()
	if rotate {
		newRefresh, newClaims, err := sg.issue(claims.Subject, TokenTypeRefresh, now)
		if err != nil {
			return nil, err
		}
		if err := s.tokens.AddActive(ctx, claims.Subject, newClaims.ID, sg.refreshTTL); err != nil {
			return nil, err
		}
		if err := s.revokeClaims(ctx, claims); err != nil {
			s.logger.Warn().Err(err).Msg("failed to revoke rotated refresh token")
		}
		pair.RefreshToken = newRefresh
	}

	return pair, nil
}

// Revoke blacklists one token. Expired tokens are accepted so clients
// can always log out.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.currentSigner().parse(tokenString, true)
	if err != nil {
		return err
	}
	if err := s.revokeClaims(ctx, claims); err != nil {
		return err
	}
	s.seclog.LogTokenRevoked(claims.Subject, claims.ID)
	if s.audit != nil {
		s.audit.Record(&models.AuditLog{
			UserID:       claims.Subject,
			ActionType:   models.ActionLogout,
			ResourceType: "session",
			Description:  "token revoked",
		})
	}
	return nil
}

func (s *Service) revokeClaims(ctx context.Context, claims *Claims) error {
	ttl := time.Duration(0)
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := s.tokens.Blacklist(ctx, claims.ID, ttl); err != nil {
		return err
	}
	return s.tokens.RemoveActive(ctx, claims.Subject, claims.ID)
}

// RevokeAllForUser blacklists every outstanding token for the user and
// returns how many were revoked.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	jtis, err := s.tokens.ActiveForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	// The per-token expiry is not tracked here, so the blacklist entry
	// lives for the longest TTL any of them could have.
	maxTTL := s.currentSigner().refreshTTL
	for _, jti := range jtis {
		if err := s.tokens.Blacklist(ctx, jti, maxTTL); err != nil {
			return 0, err
		}
		if err := s.tokens.RemoveActive(ctx, userID, jti); err != nil {
			return 0, err
		}
	}
	if len(jtis) > 0 {
		s.publish(EventTokensRevoked, map[string]any{
			"user_id": userID,
			"count":   len(jtis),
		})
	}
	return len(jtis), nil
}

// BindConfig subscribes the service to runtime configuration changes:
// security.jwt swaps the signer and revokes everything outstanding,
// security.password_policy takes effect for future checks.
func (s *Service) BindConfig(cfgSvc *config.Service) {
	cfgSvc.RegisterListener("security-jwt", "security.jwt", func(_ string, _, _ interface{}) {
		if err := s.ApplyJWTConfig(cfgSvc.Current().Security.JWT); err != nil {
			s.logger.Error().Err(err).Msg("rejected jwt config change")
		}
	})
	cfgSvc.RegisterListener("security-policy", "security.password_policy", func(_ string, _, _ interface{}) {
		policy := cfgSvc.Current().Security.PasswordPolicy
		s.mu.Lock()
		s.policy = policy
		s.mu.Unlock()
		s.logger.Info().Msg("password policy updated")
	})
}

// ApplyJWTConfig swaps the signing material. Changing the secret or
// algorithm invalidates old signatures by itself; the explicit revoke
// sweep also clears the active sets so the books stay consistent.
func (s *Service) ApplyJWTConfig(cfg config.JWTConfig) error {
	sg, err := newSigner(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := !bytes.Equal(s.signer.secret, sg.secret) || s.signer.alg != sg.alg
	s.signer = sg
	s.rotateRefresh = cfg.RotateRefreshTokens
	s.mu.Unlock()

	if !changed {
		return nil
	}
	s.logger.Warn().Msg("jwt signing material changed; revoking all outstanding tokens")
	s.revokeEveryone()
	return nil
}

func (s *Service) revokeEveryone() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enumerate users for revocation")
		return
	}
	total := 0
	for _, u := range users {
		n, err := s.RevokeAllForUser(ctx, u.ID.String())
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("revocation sweep failed")
			continue
		}
		if n > 0 {
			s.seclog.LogRevokeAll(u.ID.String(), "signing material changed")
		}
		total += n
	}
	s.logger.Info().Int("tokens", total).Msg("revocation sweep complete")
}

// RunCleanup prunes expired revocation state until ctx is cancelled.
// Shaped to run under the supervision tree.
func (s *Service) RunCleanup(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.tokens.CleanupExpired(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("token cleanup failed")
				continue
			}
			if n > 0 {
				s.logger.Debug().Int("removed", n).Msg("pruned expired token state")
			}
		}
	}
}

func (s *Service) publish(eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(eventType, eventSource, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (s *Service) recordAction(actor *Actor, action models.ActionType, resourceType, resourceID, description string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		ActionType:   action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  description,
	}
	if actor != nil {
		entry.UserID = actor.ID
		entry.UserName = actor.Username
		entry.IPAddress = actor.IP
		entry.UserAgent = actor.UserAgent
	}
	s.audit.Record(entry)
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errs.New(errs.KindValidation, "invalid email address")
	}
	return strings.ToLower(email), nil
}

// generatePassword builds a random password with one character from
// each class guaranteed, then shuffles.
func generatePassword(length int) (string, error) {
	const (
		upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
		lower   = "abcdefghjkmnpqrstuvwxyz"
		digits  = "23456789"
		special = "!@#$%^&*-_=+"
	)
	all := upper + lower + digits + special
	if length < 8 {
		length = 8
	}

	buf := make([]byte, 0, length)
	for _, class := range []string{upper, lower, digits, special} {
		c, err := randByte(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := randByte(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return string(buf), nil
}

func randByte(alphabet string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, errs.Wrap(errs.KindSecurity, "generate random password", err)
	}
	return alphabet[i.Int64()], nil
}

func mustJSON(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
