// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/security"
)

// createUserRequest mirrors security.CreateUserParams on the wire.
// decodeJSON enforces the validate tags before the handler runs.
type createUserRequest struct {
	Username string         `json:"username" validate:"required,username"`
	Email    string         `json:"email" validate:"required,email"`
	Password string         `json:"password" validate:"required"`
	Roles    []string       `json:"roles,omitempty" validate:"omitempty,dive,role"`
	Active   *bool          `json:"active,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// updateUserRequest carries optional changes; absent fields stay as
// they are.
type updateUserRequest struct {
	Username *string        `json:"username,omitempty" validate:"omitempty,username"`
	Email    *string        `json:"email,omitempty" validate:"omitempty,email"`
	Password *string        `json:"password,omitempty"`
	Roles    []string       `json:"roles,omitempty" validate:"omitempty,dive,role"`
	Active   *bool          `json:"active,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleListUsers returns every account.
//
// @Summary List users
// @Tags Users
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.User
// @Router /users [get]
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Security.ListUsers(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// handleCreateUser provisions an account.
//
// @Summary Create a user
// @Tags Users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 201 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /users [post]
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, err := s.deps.Security.CreateUser(r.Context(), security.CreateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
		Active:   req.Active,
		Metadata: req.Metadata,
	}, s.actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// handleGetUser returns one account by id.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := s.deps.Security.GetUser(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies partial changes to an account.
//
// @Summary Update a user
// @Tags Users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200 {object} models.User
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id} [put]
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, err := s.deps.Security.UpdateUser(r.Context(), id, security.UpdateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
		Active:   req.Active,
		Metadata: req.Metadata,
	}, s.actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account and revokes its tokens.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Security.DeleteUser(r.Context(), id, s.actor(r)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// userID parses the {id} route parameter, answering 400 itself when the
// value is not a UUID.
func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondErrorMsg(w, http.StatusBadRequest, errs.KindValidation, "user id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
