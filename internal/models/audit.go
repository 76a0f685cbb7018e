// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ActionType categorizes audit records.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionRead   ActionType = "read"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	ActionLogin  ActionType = "login"
	ActionLogout ActionType = "logout"
	ActionExport ActionType = "export"
	ActionImport ActionType = "import"
	ActionConfig ActionType = "config"
	ActionSystem ActionType = "system"
	ActionPlugin ActionType = "plugin"
	ActionCustom ActionType = "custom"
)

// ValidActionTypes contains all valid audit action types.
var ValidActionTypes = []ActionType{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete,
	ActionLogin, ActionLogout, ActionExport, ActionImport,
	ActionConfig, ActionSystem, ActionPlugin, ActionCustom,
}

// IsValidActionType checks if an action type is valid.
func IsValidActionType(t ActionType) bool {
	for _, a := range ValidActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// AuditLog is one persisted audit trail record.
type AuditLog struct {
	// ID is the stable record identifier.
	ID string `json:"id"`

	// Timestamp when the action occurred.
	Timestamp time.Time `json:"timestamp"`

	// UserID of the acting account, if authenticated.
	UserID string `json:"user_id,omitempty"`

	// UserName of the acting account, if known.
	UserName string `json:"user_name,omitempty"`

	// ActionType categorizes what was done.
	ActionType ActionType `json:"action_type"`

	// ResourceType names the kind of object acted on.
	ResourceType string `json:"resource_type"`

	// ResourceID identifies the object acted on, if any.
	ResourceID string `json:"resource_id,omitempty"`

	// Description provides human-readable details.
	Description string `json:"description,omitempty"`

	// IPAddress of the originating client, if any.
	IPAddress string `json:"ip_address,omitempty"`

	// UserAgent of the originating client, if any.
	UserAgent string `json:"user_agent,omitempty"`

	// Details contains action-specific structured data.
	Details json.RawMessage `json:"details,omitempty"`
}
