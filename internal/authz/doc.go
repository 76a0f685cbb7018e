// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package authz answers the permission predicate for the runtime.
//
// Authorization is role-based. Accounts hold roles (the closed set
// admin, operator, user, viewer on the user record); permissions grant
// a role one resource-action pair. The permission table lives in a
// Casbin enforcer as "p, role, resource, action" rows, loaded from an
// embedded policy or from security.authz.policy_path when set.
//
//	Request -> Authenticate -> Authorize -> Handler
//	                              |
//	                   Service.HasPermission
//	                    (roles from the user
//	                     record, table in Casbin)
//
// HasPermission(userID, resource, action) is true iff some role of the
// user is granted the pair. HasRole(userID, role) is direct membership
// on the record and never consults the table. Decisions are cached per
// (role, resource, action) with a short TTL; any policy mutation drops
// the cache.
package authz
