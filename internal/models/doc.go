// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

/*
Package models defines the data structures shared across the Nexus runtime.

This package is the single source of truth for the shapes that cross
component boundaries: user accounts and permissions, resource alerts,
plugin descriptors, audit records, persisted settings, and the fixed
API response bodies. Runtime-internal state (pool tasks, bus
subscriptions, manager nodes) lives with its owning package.

Key Components:

  - User / Permission: security principal and role-grant shapes
  - Alert: threshold-breach record with its resolution lifecycle
  - PluginInfo: externally visible plugin descriptor
  - AuditLog: persisted audit trail record
  - SystemSetting: persisted configuration override
  - ErrorResponse / TokenResponse: fixed HTTP response bodies
*/
package models
