// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package models

import "time"

// IsolationLevel selects the execution boundary for plugin code.
type IsolationLevel string

const (
	// IsolationNone runs the plugin inline. Trusted built-ins only.
	IsolationNone IsolationLevel = "none"

	// IsolationThread runs invocations on the I/O pool.
	IsolationThread IsolationLevel = "thread"

	// IsolationProcess runs the plugin in a child process behind a
	// line-delimited JSON protocol.
	IsolationProcess IsolationLevel = "process"
)

// ValidIsolationLevels contains all valid isolation levels for validation.
var ValidIsolationLevels = []IsolationLevel{IsolationNone, IsolationThread, IsolationProcess}

// IsValidIsolationLevel checks if an isolation level is valid.
func IsValidIsolationLevel(level IsolationLevel) bool {
	for _, l := range ValidIsolationLevels {
		if l == level {
			return true
		}
	}
	return false
}

// ResourceLimits bounds what a loaded plugin may consume.
// Zero values mean unlimited.
type ResourceLimits struct {
	// InvocationsPerSecond caps the sustained invoke rate.
	InvocationsPerSecond float64 `json:"invocations_per_second,omitempty"`

	// Burst is the token bucket depth for the rate cap.
	Burst int `json:"burst,omitempty"`

	// MaxConcurrent caps in-flight invocations across all methods.
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

// PluginInfo is the externally visible descriptor of a loaded plugin.
// The isolation manager owns the live handle; this is its snapshot.
type PluginInfo struct {
	// ID is the identifier the plugin was loaded under.
	ID string `json:"id"`

	// Name reported by the plugin itself.
	Name string `json:"name"`

	// Version reported by the plugin itself.
	Version string `json:"version"`

	// Path the plugin was loaded from (empty for built-ins).
	Path string `json:"path,omitempty"`

	// IsolationLevel the plugin runs under.
	IsolationLevel IsolationLevel `json:"isolation_level"`

	// LoadedAt is when the current load completed.
	LoadedAt time.Time `json:"loaded_at"`

	// Healthy is false once the plugin is excluded from invocation.
	Healthy bool `json:"healthy"`

	// Enabled is false while the plugin is administratively disabled.
	Enabled bool `json:"enabled"`

	// Error is the most recent failure, if any.
	Error string `json:"error,omitempty"`

	// ResourceLimits currently applied to the plugin.
	ResourceLimits ResourceLimits `json:"resource_limits"`

	// Metadata holds optional descriptor annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}
