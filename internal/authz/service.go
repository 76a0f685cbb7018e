// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package authz

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/store"
)

// RoleSource resolves the roles an account currently holds. The
// security service satisfies this.
type RoleSource interface {
	RolesOf(ctx context.Context, userID string) ([]string, error)
}

// Service answers permission and role questions for user ids.
type Service struct {
	enforcer *Enforcer
	roles    RoleSource
	logger   zerolog.Logger
}

// NewService builds the authorization service over a role source.
func NewService(cfg config.AuthzConfig, roles RoleSource) (*Service, error) {
	enforcer, err := NewEnforcer(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		enforcer: enforcer,
		roles:    roles,
		logger:   logging.Named("authz"),
	}, nil
}

// HasPermission reports whether any role of the user is granted the
// resource-action pair. A user that no longer exists has no
// permissions.
func (s *Service) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	roles, err := s.roles.RolesOf(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordAuthzDecision(false)
			return false, nil
		}
		return false, err
	}

	for _, role := range roles {
		allowed, err := s.enforcer.allows(role, resource, action)
		if err != nil {
			return false, err
		}
		if allowed {
			metrics.RecordAuthzDecision(true)
			return true, nil
		}
	}

	metrics.RecordAuthzDecision(false)
	s.logger.Debug().
		Str("user_id", userID).
		Str("permission", models.PermissionID(resource, action)).
		Strs("roles", roles).
		Msg("permission denied")
	return false, nil
}

// HasRole reports direct role membership on the user record. It never
// consults the permission table.
func (s *Service) HasRole(ctx context.Context, userID, role string) (bool, error) {
	roles, err := s.roles.RolesOf(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// Check is HasPermission keyed by permission id ("resource.action"),
// the form routes carry.
func (s *Service) Check(ctx context.Context, userID, permissionID string) (bool, error) {
	resource, action, ok := models.SplitPermissionID(permissionID)
	if !ok {
		return false, errs.Newf(errs.KindValidation, "invalid permission id %q", permissionID)
	}
	return s.HasPermission(ctx, userID, resource, action)
}

// SetPermission replaces the role set for one permission.
func (s *Service) SetPermission(p models.Permission) error {
	if err := s.enforcer.SetPermission(p); err != nil {
		return err
	}
	s.logger.Info().Str("permission", p.ID).Strs("roles", p.Roles).Msg("permission updated")
	return nil
}

// RemovePermission drops a permission entirely.
func (s *Service) RemovePermission(id string) error {
	if err := s.enforcer.RemovePermission(id); err != nil {
		return err
	}
	s.logger.Info().Str("permission", id).Msg("permission removed")
	return nil
}

// Permissions lists the current table.
func (s *Service) Permissions() []models.Permission {
	return s.enforcer.Permissions()
}

// Close releases the enforcer.
func (s *Service) Close() {
	s.enforcer.Close()
}
