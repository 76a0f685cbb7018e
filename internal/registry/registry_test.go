// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nexusruntime/nexus/internal/errs"
)

// fakeManager records lifecycle calls into a shared journal so tests can
// assert ordering across managers.
type fakeManager struct {
	name    string
	initErr error
	stopErr error

	mu          sync.Mutex
	initialized bool
	stopped     bool
	journal     *callJournal
	stopDelay   time.Duration
}

type callJournal struct {
	mu    sync.Mutex
	inits []string
	stops []string
}

func (j *callJournal) recordInit(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inits = append(j.inits, name)
}

func (j *callJournal) recordStop(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stops = append(j.stops, name)
}

func newFake(name string, journal *callJournal) *fakeManager {
	return &fakeManager{name: name, journal: journal}
}

func (f *fakeManager) Name() string { return f.name }

func (f *fakeManager) Initialize(_ context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	if f.journal != nil {
		f.journal.recordInit(f.name)
	}
	return nil
}

func (f *fakeManager) Shutdown(ctx context.Context) error {
	if f.stopDelay > 0 {
		select {
		case <-time.After(f.stopDelay):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.initialized = false
	f.stopped = true
	f.mu.Unlock()
	if f.journal != nil {
		f.journal.recordStop(f.name)
	}
	return f.stopErr
}

func (f *fakeManager) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Name: f.name, Initialized: f.initialized, Healthy: !f.stopped}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(nil, nil); err == nil {
		t.Fatal("Register(nil) succeeded, want error")
	}
	if err := r.Register(newFake("", nil), nil); err == nil {
		t.Fatal("Register with empty name succeeded, want error")
	}

	if err := r.Register(newFake("config", nil), nil); err != nil {
		t.Fatalf("Register(config): %v", err)
	}
	if err := r.Register(newFake("config", nil), nil); !errs.IsKind(err, errs.KindDependency) {
		t.Fatalf("duplicate Register = %v, want DependencyError", err)
	}
	if err := r.Register(newFake("logger", nil), []string{"missing"}); !errs.IsKind(err, errs.KindDependency) {
		t.Fatalf("unknown dependency = %v, want DependencyError", err)
	}
	if err := r.Register(newFake("loop", nil), []string{"loop"}); !errs.IsKind(err, errs.KindDependency) {
		t.Fatalf("self dependency = %v, want DependencyError", err)
	}

	// Failed registrations must leave no partial state behind.
	if got := r.Names(); !reflect.DeepEqual(got, []string{"config"}) {
		t.Errorf("Names() = %v, want [config]", got)
	}
}

func TestInitializeAllOrdersDependencies(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()

	mustRegister(t, r, newFake("config", journal), nil)
	mustRegister(t, r, newFake("logger", journal), []string{"config"})
	mustRegister(t, r, newFake("event_bus", journal), []string{"config", "logger"})
	mustRegister(t, r, newFake("plugins", journal), []string{"event_bus", "logger"})

	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	wantOrder := []string{"config", "logger", "event_bus", "plugins"}
	if !reflect.DeepEqual(journal.inits, wantOrder) {
		t.Errorf("init order = %v, want %v", journal.inits, wantOrder)
	}
	if got := r.InitOrder(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("InitOrder() = %v, want %v", got, wantOrder)
	}

	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll: %v", err)
	}
	wantReverse := []string{"plugins", "event_bus", "logger", "config"}
	if !reflect.DeepEqual(journal.stops, wantReverse) {
		t.Errorf("shutdown order = %v, want %v", journal.stops, wantReverse)
	}
}

func TestCycleRejectedAndGraphUnchanged(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	mustRegister(t, r, newFake("A", journal), nil)
	mustRegister(t, r, newFake("B", journal), []string{"A"})
	mustRegister(t, r, newFake("C", journal), []string{"B"})

	err := r.AddDependency("A", "C")
	if !errs.IsKind(err, errs.KindDependency) {
		t.Fatalf("AddDependency(A, C) = %v, want DependencyError", err)
	}

	// The rejected edge must not linger.
	if got := r.Dependencies("A"); len(got) != 0 {
		t.Errorf("Dependencies(A) = %v, want empty", got)
	}

	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	want := []string{"A", "B", "C"}
	if !reflect.DeepEqual(journal.inits, want) {
		t.Errorf("init order = %v, want %v", journal.inits, want)
	}
}

func TestRegistrationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	mustRegister(t, r, newFake("base", journal), nil)
	// zeta and alpha are both ready once base is up; zeta was registered
	// first and must win the tie.
	mustRegister(t, r, newFake("zeta", journal), []string{"base"})
	mustRegister(t, r, newFake("alpha", journal), []string{"base"})

	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	want := []string{"base", "zeta", "alpha"}
	if !reflect.DeepEqual(journal.inits, want) {
		t.Errorf("init order = %v, want %v", journal.inits, want)
	}
}

func TestInitializeAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	broken := newFake("broken", journal)
	broken.initErr = errors.New("boom")

	mustRegister(t, r, newFake("config", journal), nil)
	mustRegister(t, r, broken, []string{"config"})
	mustRegister(t, r, newFake("later", journal), []string{"broken"})

	err := r.InitializeAll(context.Background())
	if !errs.IsKind(err, errs.KindManagerInit) {
		t.Fatalf("InitializeAll = %v, want ManagerInitializationError", err)
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("error is not *errs.Error: %v", err)
	}
	if e.Details["manager"] != "broken" {
		t.Errorf("error detail manager = %v, want broken", e.Details["manager"])
	}

	// "later" never started; "config" stays initialized for shutdown.
	if !reflect.DeepEqual(journal.inits, []string{"config"}) {
		t.Errorf("inits = %v, want [config]", journal.inits)
	}
	if got := r.InitOrder(); !reflect.DeepEqual(got, []string{"config"}) {
		t.Errorf("InitOrder() = %v, want [config]", got)
	}

	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll: %v", err)
	}
	if !reflect.DeepEqual(journal.stops, []string{"config"}) {
		t.Errorf("stops = %v, want [config]", journal.stops)
	}
}

func TestShutdownAllSwallowsAndAggregates(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	failing := newFake("failing", journal)
	failing.stopErr = errors.New("stuck pipe")

	mustRegister(t, r, newFake("first", journal), nil)
	mustRegister(t, r, failing, []string{"first"})
	mustRegister(t, r, newFake("last", journal), []string{"failing"})

	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	err := r.ShutdownAll(context.Background())
	if !errs.IsKind(err, errs.KindManagerStop) {
		t.Fatalf("ShutdownAll = %v, want ManagerShutdownError", err)
	}

	// Every manager still got its shutdown despite the failure.
	want := []string{"last", "failing", "first"}
	if !reflect.DeepEqual(journal.stops, want) {
		t.Errorf("stops = %v, want %v", journal.stops, want)
	}

	// The failing manager is reported unhealthy afterwards.
	for _, st := range r.Statuses() {
		if st.Name == "failing" && st.Healthy {
			t.Error("failing manager still reported healthy after shutdown error")
		}
	}
}

func TestShutdownAllIsIdempotent(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	mustRegister(t, r, newFake("only", journal), nil)

	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("first ShutdownAll: %v", err)
	}
	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("second ShutdownAll: %v", err)
	}
	if got := len(journal.stops); got != 1 {
		t.Errorf("Shutdown called %d times, want 1", got)
	}
}

func TestPerManagerShutdownTimeout(t *testing.T) {
	t.Parallel()

	journal := &callJournal{}
	r := New()
	slow := newFake("slow", journal)
	slow.stopDelay = 5 * time.Second

	mustRegister(t, r, slow, nil)
	r.SetShutdownTimeout("slow", 50*time.Millisecond)

	start := time.Now()
	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll: %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("ShutdownAll took %v, want well under the overall budget", took)
	}
}

func TestGetAndNames(t *testing.T) {
	t.Parallel()

	r := New()
	cfg := newFake("config", nil)
	mustRegister(t, r, cfg, nil)
	mustRegister(t, r, newFake("logger", nil), []string{"config"})

	got, ok := r.Get("config")
	if !ok || got.Name() != "config" {
		t.Errorf("Get(config) = %v, %v", got, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) found a manager")
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"config", "logger"}) {
		t.Errorf("Names() = %v", names)
	}
	if deps := r.Dependencies("logger"); !reflect.DeepEqual(deps, []string{"config"}) {
		t.Errorf("Dependencies(logger) = %v", deps)
	}
}

func mustRegister(t *testing.T, r *Registry, m Manager, deps []string) {
	t.Helper()
	if err := r.Register(m, deps); err != nil {
		t.Fatalf("Register(%s): %v", m.Name(), err)
	}
}
