// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role constants define the closed set of roles in the system.
// These align with the Casbin policy rows loaded by internal/authz.
const (
	// RoleAdmin has full access including user management.
	RoleAdmin = "admin"

	// RoleOperator can manage plugins and system settings.
	RoleOperator = "operator"

	// RoleUser can read and write data owned by its account.
	RoleUser = "user"

	// RoleViewer is the default role with read-only access.
	RoleViewer = "viewer"
)

// ValidRoles contains all valid role names for validation.
var ValidRoles = []string{RoleAdmin, RoleOperator, RoleUser, RoleViewer}

// IsValidRole checks if a role name is valid.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User represents an account in the security core.
//
// Uniqueness on username and email is case-insensitive and enforced
// atomically by the user store. The password hash never leaves the
// process in serialized form.
type User struct {
	// ID is the stable account identifier.
	ID uuid.UUID `json:"id"`

	// Username is unique (case-insensitive), 3-32 chars of [A-Za-z0-9._-].
	Username string `json:"username"`

	// Email is unique (case-insensitive) and stored lowercase.
	Email string `json:"email"`

	// HashedPassword is the bcrypt digest. Never serialized.
	HashedPassword string `json:"-"`

	// Roles the account holds. Subset of ValidRoles.
	Roles []string `json:"roles"`

	// Active accounts may authenticate; inactive ones may not.
	Active bool `json:"active"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`

	// LastLogin is the most recent successful authentication (nil if never).
	LastLogin *time.Time `json:"last_login,omitempty"`

	// Metadata holds optional account annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasRole reports direct role membership.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the store.
func (u *User) Clone() *User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.Metadata != nil {
		c.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Permission grants a set of roles access to one resource-action pair.
// The ID is always "{resource}.{action}".
type Permission struct {
	// ID is the permission name, e.g. "users.read".
	ID string `json:"id"`

	// Roles granted this permission.
	Roles []string `json:"roles"`
}

// NewPermission builds a permission from its resource and action parts.
func NewPermission(resource, action string, roles ...string) Permission {
	return Permission{ID: PermissionID(resource, action), Roles: roles}
}

// PermissionID joins a resource and action into the canonical id.
func PermissionID(resource, action string) string {
	return resource + "." + action
}

// SplitPermissionID splits a permission id into resource and action.
// The action is everything after the last dot, so dotted resources work.
func SplitPermissionID(id string) (resource, action string, ok bool) {
	i := strings.LastIndex(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// Grants reports whether the permission includes the given role.
func (p Permission) Grants(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
