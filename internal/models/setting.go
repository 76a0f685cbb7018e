// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// SystemSetting is a persisted configuration override keyed by dotted path.
type SystemSetting struct {
	// Key is the dotted configuration path, e.g. "monitoring.enabled".
	Key string `json:"key"`

	// Value is the setting payload as JSON.
	Value json.RawMessage `json:"value"`

	// IsSecret settings are redacted when read through the API.
	IsSecret bool `json:"is_secret"`

	// IsEditable settings may be changed through the API.
	IsEditable bool `json:"is_editable"`

	// UpdatedAt is when the setting last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Redacted returns a copy with the value masked for API reads.
func (s SystemSetting) Redacted() SystemSetting {
	if !s.IsSecret {
		return s
	}
	c := s
	c.Value = json.RawMessage(`"********"`)
	return c
}
