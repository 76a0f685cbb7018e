// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertLevel indicates the severity of a resource alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelError    AlertLevel = "error"
	AlertLevelCritical AlertLevel = "critical"
)

// ValidAlertLevels contains all valid alert levels for validation.
var ValidAlertLevels = []AlertLevel{AlertLevelInfo, AlertLevelWarning, AlertLevelError, AlertLevelCritical}

// IsValidAlertLevel checks if an alert level is valid.
func IsValidAlertLevel(level AlertLevel) bool {
	for _, l := range ValidAlertLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Alert is a threshold-breach record produced by the resource monitor.
//
// At most one active alert exists per metric; repeated breaches update
// Timestamp and MetricValue in place, and an escalation from warning to
// critical raises Level on the same record. Resolution flips Resolved and
// moves the record into the bounded resolved history.
type Alert struct {
	// ID is the stable alert identifier.
	ID uuid.UUID `json:"id"`

	// Level is the current severity.
	Level AlertLevel `json:"level"`

	// Message is the human-readable summary.
	Message string `json:"message"`

	// Source names the component that raised the alert.
	Source string `json:"source"`

	// Timestamp of the most recent breach observation.
	Timestamp time.Time `json:"timestamp"`

	// MetricName is the sampled metric, e.g. "cpu_percent".
	MetricName string `json:"metric_name,omitempty"`

	// MetricValue is the most recent sampled value.
	MetricValue float64 `json:"metric_value,omitempty"`

	// Threshold is the configured trigger value.
	Threshold float64 `json:"threshold,omitempty"`

	// Resolved is true once the metric fell back below its threshold.
	Resolved bool `json:"resolved"`

	// ResolvedAt is when the alert resolved (nil while active).
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Metadata holds optional alert annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand outside the monitor.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
