// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/middleware"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/security"
)

// handleToken issues a token pair for password credentials.
//
// @Summary Obtain access and refresh tokens
// @Description OAuth2 password grant. Send grant_type=password with username and password as form fields.
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "Must be password"
// @Param username formData string true "Username or email"
// @Param password formData string true "Password"
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/token [post]
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, "malformed form body")
		return
	}
	if grant := r.PostFormValue("grant_type"); grant != "password" {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation,
			"unsupported grant_type "+strconv.Quote(grant))
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, "username and password are required")
		return
	}

	pair, _, err := s.deps.Security.Authenticate(r.Context(), username, password, s.actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse(pair))
}

// handleRefresh trades a refresh token for a fresh pair.
//
// @Summary Refresh an access token
// @Tags Auth
// @Accept json
// @Produce json
// @Success 200 {object} models.TokenResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.RefreshToken == "" {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, "refresh_token is required")
		return
	}

	pair, err := s.deps.Security.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse(pair))
}

// handleRevoke blacklists a token. Without a body it revokes the token
// the request itself presented, which is how clients log out.
//
// @Summary Revoke a token
// @Tags Auth
// @Security BearerAuth
// @Success 204
// @Router /auth/revoke [post]
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
	}
	token := req.Token
	if token == "" {
		token = middleware.BearerToken(r)
	}

	if err := s.deps.Security.Revoke(r.Context(), token); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleMe returns the account behind the presented token.
//
// @Summary Current account
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.User
// @Router /auth/me [get]
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(middleware.UserIDFrom(r.Context()))
	if err != nil {
		respondErrorMsg(w, http.StatusUnauthorized, errs.KindSecurity, "token subject is not a user id")
		return
	}
	user, err := s.deps.Security.GetUser(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func tokenResponse(pair *security.TokenPair) models.TokenResponse {
	return models.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}

// actor describes the caller for audit records. The username lookup is
// best effort; a missing name never blocks the operation.
func (s *Server) actor(r *http.Request) *security.Actor {
	a := &security.Actor{IP: clientIP(r), UserAgent: r.UserAgent()}
	if claims, ok := middleware.ClaimsFrom(r.Context()); ok {
		a.ID = claims.UserID()
		if id, err := uuid.Parse(a.ID); err == nil {
			if u, err := s.deps.Security.GetUser(r.Context(), id); err == nil {
				a.Username = u.Username
			}
		}
	}
	return a
}

// clientIP strips the port RemoteAddr carries when the request arrived
// without forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
