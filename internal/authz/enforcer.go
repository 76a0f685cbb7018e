// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package authz

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// reloadInterval is how often a file-backed policy is re-read.
const reloadInterval = 30 * time.Second

// Enforcer owns the permission table. Rows are (role, resource, action);
// subjects are always role names, never user ids.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
	fromFile bool
}

// NewEnforcer builds the enforcer from the embedded model. The policy
// comes from cfg.PolicyPath when the file exists, otherwise from the
// built-in table. A file-backed policy is re-read every 30 seconds.
func NewEnforcer(cfg config.AuthzConfig) (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "invalid authorization model", err)
	}

	var (
		enforcer *casbin.SyncedEnforcer
		fromFile bool
	)
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
		fromFile = true
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicyRows(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "failed to load authorization policy", err)
	}

	if fromFile {
		enforcer.StartAutoLoadPolicy(reloadInterval)
	}

	e := &Enforcer{enforcer: enforcer, fromFile: fromFile}
	if cfg.CacheTTL > 0 {
		e.cache = newDecisionCache(cfg.CacheTTL)
	}
	return e, nil
}

// loadPolicyRows parses "p, sub, obj, act" lines into the enforcer.
func loadPolicyRows(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] != "p" || len(parts) < 4 {
			continue
		}
		if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
			return errs.Wrap(errs.KindConfiguration, fmt.Sprintf("bad policy row %q", line), err)
		}
	}
	return nil
}

// allows reports whether the role is granted the resource-action pair.
func (e *Enforcer) allows(role, resource, action string) (bool, error) {
	if e.cache != nil {
		if allowed, ok := e.cache.get(role, resource, action); ok {
			return allowed, nil
		}
	}
	allowed, err := e.enforcer.Enforce(role, resource, action)
	if err != nil {
		return false, errs.Wrap(errs.KindSecurity, "permission check failed", err)
	}
	if e.cache != nil {
		e.cache.set(role, resource, action, allowed)
	}
	return allowed, nil
}

// SetPermission replaces the role set granted one resource-action pair.
// An empty role set removes the permission.
func (e *Enforcer) SetPermission(p models.Permission) error {
	resource, action, ok := models.SplitPermissionID(p.ID)
	if !ok {
		return errs.Newf(errs.KindValidation, "invalid permission id %q", p.ID)
	}
	for _, role := range p.Roles {
		if !models.IsValidRole(role) {
			return errs.Newf(errs.KindValidation, "unknown role %q", role)
		}
	}

	if _, err := e.enforcer.RemoveFilteredPolicy(1, resource, action); err != nil {
		return errs.Wrap(errs.KindSecurity, "failed to clear permission rows", err)
	}
	for _, role := range p.Roles {
		if _, err := e.enforcer.AddPolicy(role, resource, action); err != nil {
			return errs.Wrap(errs.KindSecurity, "failed to add permission row", err)
		}
	}
	if e.cache != nil {
		e.cache.clear()
	}
	return nil
}

// RemovePermission drops every row for the permission id.
func (e *Enforcer) RemovePermission(id string) error {
	return e.SetPermission(models.Permission{ID: id})
}

// Permissions returns the table grouped into permission records,
// sorted by id with roles in canonical order.
func (e *Enforcer) Permissions() []models.Permission {
	rows, _ := e.enforcer.GetPolicy()

	grouped := make(map[string][]string)
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		id := models.PermissionID(row[1], row[2])
		grouped[id] = append(grouped[id], row[0])
	}

	out := make([]models.Permission, 0, len(grouped))
	for id, roles := range grouped {
		sort.Slice(roles, func(i, j int) bool { return roleRank(roles[i]) < roleRank(roles[j]) })
		out = append(out, models.Permission{ID: id, Roles: roles})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func roleRank(role string) int {
	for i, r := range models.ValidRoles {
		if r == role {
			return i
		}
	}
	return len(models.ValidRoles)
}

// Reload re-reads a file-backed policy immediately.
func (e *Enforcer) Reload() error {
	if !e.fromFile {
		return nil
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		return errs.Wrap(errs.KindConfiguration, "failed to reload policy", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	return nil
}

// Close stops the background policy reload.
func (e *Enforcer) Close() {
	if e.fromFile {
		e.enforcer.StopAutoLoadPolicy()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
