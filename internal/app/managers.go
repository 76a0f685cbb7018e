// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package app

import (
	"context"
	"sync"

	"github.com/nexusruntime/nexus/internal/registry"
)

// funcManager adapts a component's construct/teardown closures to the
// registry's Manager contract. Components themselves are stored on the
// App; the closures run in dependency order, so a manager's Initialize
// can rely on every dependency's field being populated.
type funcManager struct {
	name     string
	initFn   func(ctx context.Context) error
	stopFn   func(ctx context.Context) error
	statusFn func() map[string]any

	mu          sync.Mutex
	initialized bool
	stopped     bool
	healthy     bool
}

func newManager(name string, initFn, stopFn func(ctx context.Context) error, statusFn func() map[string]any) *funcManager {
	return &funcManager{
		name:     name,
		initFn:   initFn,
		stopFn:   stopFn,
		statusFn: statusFn,
	}
}

func (m *funcManager) Name() string { return m.name }

func (m *funcManager) Initialize(ctx context.Context) error {
	if m.initFn != nil {
		if err := m.initFn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.initialized = true
	m.healthy = true
	m.mu.Unlock()
	return nil
}

func (m *funcManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.initialized = false
	m.healthy = false
	m.mu.Unlock()

	if m.stopFn != nil {
		return m.stopFn(ctx)
	}
	return nil
}

func (m *funcManager) Status() registry.Status {
	m.mu.Lock()
	st := registry.Status{
		Name:        m.name,
		Initialized: m.initialized,
		Healthy:     m.healthy,
	}
	m.mu.Unlock()
	if m.statusFn != nil {
		st.Details = m.statusFn()
	}
	return st
}
