// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

/*
Package api exposes the runtime over HTTP.

The surface is a chi router mounted at /api/v1: token issuance and
refresh, user administration, live configuration reads and writes,
system status and backups, plugin management, monitoring queries, the
audit trail, and a websocket event stream. Root, /health, /metrics and
/swagger stay outside the authenticated tree.

Every route passes the same middleware chain (request id, real ip,
recoverer, CORS, rate limit, metrics) before authentication; the
required permission is attached per route, so the handler never checks
roles itself. Failed requests all share one JSON shape:

	{"error": "...", "kind": "ValidationError", "details": {...}}

Server wires concrete services through Dependencies and produces a
ready *http.Server for the supervisor to run.
*/
package api
