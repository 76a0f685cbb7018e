// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package metrics declares the Prometheus instrumentation for every
// runtime subsystem and small helpers for recording common operations.
//
// Metric families are grouped by prefix:
//
//	bus_*        event bus throughput, drops, and queue depth
//	pool_*       thread pool task counts and latencies
//	manager_*    lifecycle timings per registered manager
//	system_*     host resource gauges fed by the monitor
//	monitor_*    alert counters and probe failures
//	auth_*       authentication and token lifecycle
//	plugin_*     plugin invocation outcomes and breaker state
//	api_*        HTTP request counts and latencies
//	websocket_*  live event stream connections
//	bridge_*     external broker forwarding
//	app_*        build info and uptime
//
// All collectors register on the default registry via promauto at
// package load. Snapshot converts gathered families into JSON-friendly
// structures for the diagnostics endpoint.
package metrics
