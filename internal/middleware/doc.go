// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

/*
Package middleware provides the HTTP middleware chain for the REST API.

Every middleware is a chi-compatible func(http.Handler) http.Handler so the
router composes them with Use and Group. The canonical order is:

	request id -> real ip -> recoverer -> CORS -> rate limit ->
	metrics -> authenticate -> authorize(permission)

Authenticate and Authorize are factories over narrow interfaces
(TokenVerifier, PermissionChecker) satisfied by the security and authz
services, which keeps this package free of service construction and lets
tests substitute fakes.

Rejections written here carry the same JSON error shape as API handlers,
{"error": ..., "kind": ..., "details": ...}, so clients see one error
format regardless of which layer refused the request.
*/
package middleware
