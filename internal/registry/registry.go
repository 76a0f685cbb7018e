// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package registry owns every long-lived manager in the runtime. It keeps
// the dependency graph between managers, initializes them in topological
// order, and shuts them down in reverse. Cross-references between managers
// go through Get by name so the registry stays the single owner; managers
// never capture pointers to each other at construction time.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// DefaultShutdownTimeout bounds one full ShutdownAll walk. Managers that
// have not returned when the budget expires see a cancelled context and
// are expected to abandon in-flight work.
const DefaultShutdownTimeout = 15 * time.Second

// Manager is the capability contract every registered component fulfils.
// Initialize is called exactly once, in dependency order; Shutdown exactly
// once, in reverse order. After Shutdown a manager is not reusable.
type Manager interface {
	Name() string
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Status() Status
}

// Status is a manager's self-reported health snapshot. The registry may
// overlay Healthy=false when a manager misses its shutdown deadline.
type Status struct {
	Name        string         `json:"name"`
	Initialized bool           `json:"initialized"`
	Healthy     bool           `json:"healthy"`
	Details     map[string]any `json:"details,omitempty"`
}

// Registry is the dependency-aware lifecycle engine. All methods are safe
// for concurrent use, though InitializeAll and ShutdownAll are expected to
// run once each from the application core.
type Registry struct {
	mu sync.RWMutex

	managers map[string]Manager
	deps     map[string][]string
	regOrder []string

	initialized map[string]bool
	stopped     map[string]bool
	unhealthy   map[string]bool

	// initOrder is the realized initialization order: only managers whose
	// Initialize returned nil, in the order they ran. ShutdownAll walks it
	// backwards so partially-started trees still unwind cleanly.
	initOrder []string

	// shutdownTimeouts holds per-manager caps tighter than the overall
	// walk budget, keyed by manager name.
	shutdownTimeouts map[string]time.Duration

	logger zerolog.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		managers:         make(map[string]Manager),
		deps:             make(map[string][]string),
		initialized:      make(map[string]bool),
		stopped:          make(map[string]bool),
		unhealthy:        make(map[string]bool),
		shutdownTimeouts: make(map[string]time.Duration),
		logger:           logging.Named("registry"),
	}
}

// Register adds a manager with its dependency edges. Every dependency must
// already be registered, the name must be unused, and the new edges must
// not close a cycle. On any failure the graph is left exactly as it was.
func (r *Registry) Register(m Manager, deps []string) error {
	if m == nil {
		return errs.New(errs.KindDependency, "cannot register a nil manager")
	}
	name := m.Name()
	if name == "" {
		return errs.New(errs.KindDependency, "manager name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.managers[name]; exists {
		return errs.Newf(errs.KindDependency, "manager %q is already registered", name).
			WithDetail("manager", name)
	}
	edges := dedupe(deps)
	for _, dep := range edges {
		if dep == name {
			return errs.Newf(errs.KindDependency, "manager %q cannot depend on itself", name).
				WithDetail("manager", name)
		}
		if _, ok := r.managers[dep]; !ok {
			return errs.Newf(errs.KindDependency, "manager %q depends on unregistered manager %q", name, dep).
				WithDetail("manager", name).
				WithDetail("dependency", dep)
		}
	}

	// Insert tentatively, verify acyclicity, roll back on failure. With
	// dependencies required to pre-exist a Register cannot normally close
	// a cycle, but the check shares the path used by AddDependency.
	r.managers[name] = m
	r.deps[name] = edges
	r.regOrder = append(r.regOrder, name)
	if cycle := r.findCycleFrom(name); cycle != nil {
		delete(r.managers, name)
		delete(r.deps, name)
		r.regOrder = r.regOrder[:len(r.regOrder)-1]
		return errs.Newf(errs.KindDependency, "registering manager %q would create a dependency cycle: %s",
			name, strings.Join(cycle, " -> ")).
			WithDetail("manager", name).
			WithDetail("cycle", cycle)
	}

	r.logger.Debug().
		Str("manager", name).
		Strs("dependencies", edges).
		Msg("Manager registered")
	return nil
}

// AddDependency appends edges from an already-registered manager to other
// registered managers. Edges that would close a cycle are rejected and the
// previous edge set is restored.
func (r *Registry) AddDependency(name string, deps ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.managers[name]; !ok {
		return errs.Newf(errs.KindDependency, "unknown manager %q", name).
			WithDetail("manager", name)
	}
	for _, dep := range deps {
		if dep == name {
			return errs.Newf(errs.KindDependency, "manager %q cannot depend on itself", name).
				WithDetail("manager", name)
		}
		if _, ok := r.managers[dep]; !ok {
			return errs.Newf(errs.KindDependency, "manager %q depends on unregistered manager %q", name, dep).
				WithDetail("manager", name).
				WithDetail("dependency", dep)
		}
	}

	prev := r.deps[name]
	r.deps[name] = dedupe(append(append([]string(nil), prev...), deps...))
	if cycle := r.findCycleFrom(name); cycle != nil {
		r.deps[name] = prev
		return errs.Newf(errs.KindDependency, "adding dependencies to %q would create a dependency cycle: %s",
			name, strings.Join(cycle, " -> ")).
			WithDetail("manager", name).
			WithDetail("cycle", cycle)
	}
	return nil
}

// SetShutdownTimeout caps one manager's shutdown tighter than the overall
// walk budget. Zero removes the cap.
func (r *Registry) SetShutdownTimeout(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		delete(r.shutdownTimeouts, name)
		return
	}
	r.shutdownTimeouts[name] = d
}

// InitializeAll visits managers in topological order, earliest-registered
// first among ties, and initializes each exactly once. The first failure
// stops the walk; managers initialized before it stay initialized so a
// subsequent ShutdownAll can unwind them.
func (r *Registry) InitializeAll(ctx context.Context) error {
	order, err := r.topoOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		r.mu.RLock()
		m := r.managers[name]
		done := r.initialized[name]
		r.mu.RUnlock()
		if done {
			continue
		}

		start := time.Now()
		initErr := m.Initialize(ctx)
		took := time.Since(start)
		metrics.RecordManagerInit(name, took, initErr)
		if initErr != nil {
			r.logger.Error().
				Err(initErr).
				Str("manager", name).
				Dur("took", took).
				Msg("Manager initialization failed")
			return errs.Wrap(errs.KindManagerInit,
				fmt.Sprintf("initialize manager %q", name), initErr).
				WithDetail("manager", name)
		}

		r.mu.Lock()
		r.initialized[name] = true
		r.initOrder = append(r.initOrder, name)
		r.mu.Unlock()

		r.logger.Info().
			Str("manager", name).
			Dur("took", took).
			Msg("Manager initialized")
	}
	return nil
}

// ShutdownAll stops initialized managers in reverse initialization order.
// Individual failures are logged and swallowed so every later manager
// still gets its shutdown; the aggregate error names the ones that failed.
// The walk is bounded by DefaultShutdownTimeout; once the budget is gone
// remaining managers are marked unhealthy but still called with the
// expired context so they can release what they can.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	order := make([]string, len(r.initOrder))
	copy(order, r.initOrder)
	r.mu.RUnlock()

	phaseCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()

	var failed []string
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		r.mu.RLock()
		m := r.managers[name]
		alreadyStopped := r.stopped[name]
		timeout := r.shutdownTimeouts[name]
		r.mu.RUnlock()
		if m == nil || alreadyStopped {
			continue
		}

		if phaseCtx.Err() != nil {
			r.markUnhealthy(name)
			r.logger.Warn().
				Str("manager", name).
				Msg("Shutdown budget exhausted, manager marked unhealthy")
		}

		mgrCtx := phaseCtx
		var mgrCancel context.CancelFunc
		if timeout > 0 {
			mgrCtx, mgrCancel = context.WithTimeout(phaseCtx, timeout)
		}
		start := time.Now()
		stopErr := m.Shutdown(mgrCtx)
		if mgrCancel != nil {
			mgrCancel()
		}
		took := time.Since(start)
		metrics.RecordManagerShutdown(name, took)

		r.mu.Lock()
		r.stopped[name] = true
		r.initialized[name] = false
		r.mu.Unlock()

		if stopErr != nil {
			failed = append(failed, name)
			r.markUnhealthy(name)
			r.logger.Error().
				Err(stopErr).
				Str("manager", name).
				Dur("took", took).
				Msg("Manager shutdown failed")
			continue
		}
		r.logger.Info().
			Str("manager", name).
			Dur("took", took).
			Msg("Manager stopped")
	}

	if len(failed) > 0 {
		return errs.Newf(errs.KindManagerStop, "%d manager(s) failed to shut down cleanly: %s",
			len(failed), strings.Join(failed, ", ")).
			WithDetail("managers", failed)
	}
	return nil
}

// Get returns the manager registered under name.
func (r *Registry) Get(name string) (Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[name]
	return m, ok
}

// Names returns all registered manager names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.regOrder))
	copy(out, r.regOrder)
	return out
}

// InitOrder returns the realized initialization order: the managers whose
// Initialize succeeded, in the order they ran.
func (r *Registry) InitOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.initOrder))
	copy(out, r.initOrder)
	return out
}

// Dependencies returns a copy of one manager's direct dependency edges.
func (r *Registry) Dependencies(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps, ok := r.deps[name]
	if !ok {
		return nil
	}
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Statuses reports every manager's status in registration order, with the
// registry's unhealthy overlay applied.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	names := make([]string, len(r.regOrder))
	copy(names, r.regOrder)
	r.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		m := r.managers[name]
		forced := r.unhealthy[name]
		r.mu.RUnlock()
		if m == nil {
			continue
		}
		st := m.Status()
		if forced {
			st.Healthy = false
		}
		out = append(out, st)
	}
	return out
}

// Healthy reports whether every registered manager is currently healthy.
func (r *Registry) Healthy() bool {
	for _, st := range r.Statuses() {
		if !st.Healthy {
			return false
		}
	}
	return true
}

func (r *Registry) markUnhealthy(name string) {
	r.mu.Lock()
	r.unhealthy[name] = true
	r.mu.Unlock()
}

// topoOrder computes a deterministic topological order: Kahn's algorithm,
// always picking the earliest-registered manager among the ready set.
func (r *Registry) topoOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indegree := make(map[string]int, len(r.managers))
	dependents := make(map[string][]string, len(r.managers))
	for name, deps := range r.deps {
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order := make([]string, 0, len(r.managers))
	placed := make(map[string]bool, len(r.managers))
	for len(order) < len(r.regOrder) {
		progress := false
		for _, name := range r.regOrder {
			if placed[name] || indegree[name] != 0 {
				continue
			}
			placed[name] = true
			order = append(order, name)
			for _, dependent := range dependents[name] {
				indegree[dependent]--
			}
			progress = true
			break
		}
		if !progress {
			// Register and AddDependency keep the graph acyclic, so this
			// only fires if internal state was corrupted.
			return nil, errs.New(errs.KindDependency, "dependency graph contains a cycle")
		}
	}
	return order, nil
}

// findCycleFrom runs a depth-first walk over dependency edges starting at
// the modified node and returns the first cycle found as a name path, or
// nil. Callers hold the write lock.
func (r *Registry) findCycleFrom(start string) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(r.managers))
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, dep := range r.deps[n] {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	if visit(start) {
		return cycle
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
