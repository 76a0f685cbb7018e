// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package authz

import (
	"sync"
	"time"
)

// cacheMaxEntries bounds the decision cache. The real key space is tiny
// (roles x permission table) so the bound only matters under abuse.
const cacheMaxEntries = 1024

// decisionCache memoizes (role, resource, action) outcomes for a short
// TTL. Expired entries are swept lazily on writes; there is no
// background goroutine to manage.
type decisionCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[string]decision
}

type decision struct {
	allowed bool
	expires time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:   ttl,
		items: make(map[string]decision),
	}
}

func cacheKey(role, resource, action string) string {
	return role + "\x00" + resource + "\x00" + action
}

func (c *decisionCache) get(role, resource, action string) (allowed, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.items[cacheKey(role, resource, action)]
	if !ok || time.Now().After(d.expires) {
		return false, false
	}
	return d.allowed, true
}

func (c *decisionCache) set(role, resource, action string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= cacheMaxEntries {
		now := time.Now()
		for k, d := range c.items {
			if now.After(d.expires) {
				delete(c.items, k)
			}
		}
		if len(c.items) >= cacheMaxEntries {
			c.items = make(map[string]decision)
		}
	}
	c.items[cacheKey(role, resource, action)] = decision{
		allowed: allowed,
		expires: time.Now().Add(c.ttl),
	}
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]decision)
}
