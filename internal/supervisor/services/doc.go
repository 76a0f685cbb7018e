// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package services adapts the runtime's long-lived components to
// suture.Service so the supervision tree can run and restart them.
package services
