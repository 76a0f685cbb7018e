// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Default TTLs applied when the config leaves them unset.
const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Sentinel token errors. Callers branch on these with errors.Is; the
// API layer maps all of them to a uniform 401.
var (
	ErrTokenExpired = errs.New(errs.KindSecurity, "token has expired")
	ErrTokenRevoked = errs.New(errs.KindSecurity, "token has been revoked")
	ErrTokenInvalid = errs.New(errs.KindSecurity, "token is invalid")
)

// Claims is the payload of every issued token. Subject is the user ID,
// ID the jti tracked in the blacklist and active set.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// signer holds one generation of signing material. Swapping the
// secret or algorithm replaces the whole signer, so issued and
// verified tokens always see a consistent pair.
type signer struct {
	secret     []byte
	method     jwt.SigningMethod
	alg        string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func newSigner(cfg config.JWTConfig) (*signer, error) {
	if cfg.Secret == "" {
		return nil, errs.New(errs.KindConfiguration, "security.jwt.secret must not be empty")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errs.Newf(errs.KindConfiguration,
			"unsupported jwt algorithm %q (HMAC family only)", cfg.Algorithm)
	}

	accessTTL := defaultAccessTTL
	if cfg.AccessTokenExpireMinutes > 0 {
		accessTTL = time.Duration(cfg.AccessTokenExpireMinutes) * time.Minute
	}
	refreshTTL := defaultRefreshTTL
	if cfg.RefreshTokenExpireDays > 0 {
		refreshTTL = time.Duration(cfg.RefreshTokenExpireDays) * 24 * time.Hour
	}

	return &signer{
		secret:     []byte(cfg.Secret),
		method:     method,
		alg:        method.Alg(),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

func (s *signer) ttlFor(tokenType string) time.Duration {
	if tokenType == TokenTypeRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// issue signs a fresh token of the given type for userID.
func (s *signer) issue(userID, tokenType string, now time.Time) (string, *Claims, error) {
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttlFor(tokenType))),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindSecurity, "sign token", err)
	}
	return signed, claims, nil
}

// parse verifies the signature and, unless skipExpiry is set, the time
// claims. The keyfunc pins the HMAC family so an attacker-chosen alg
// header cannot downgrade verification.
func (s *signer) parse(tokenString string, skipExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{s.alg})}
	if skipExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf(errs.KindSecurity, "unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errs.Wrap(errs.KindSecurity, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
