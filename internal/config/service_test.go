// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexusruntime/nexus/internal/errs"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Options{Path: filepath.Join(t.TempDir(), "absent.yaml"), EnvPrefix: testEnvPrefix})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestServiceTypedGetters(t *testing.T) {
	svc := newTestService(t)

	if got := svc.String("app.name"); got != "nexus" {
		t.Errorf("String(app.name) = %q, want nexus", got)
	}
	if got := svc.Int("api.port"); got != 8000 {
		t.Errorf("Int(api.port) = %d, want 8000", got)
	}
	if got := svc.Bool("monitoring.enabled"); !got {
		t.Error("Bool(monitoring.enabled) = false, want true")
	}
	if got := svc.Float("monitoring.alert_thresholds.cpu_percent"); got != 80 {
		t.Errorf("Float(cpu_percent) = %g, want 80", got)
	}
	if got := svc.Duration("event_bus.publish_timeout"); got != 5*time.Second {
		t.Errorf("Duration(publish_timeout) = %v, want 5s", got)
	}
	if got := svc.Strings("api.cors.origins"); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("Strings(cors.origins) = %v, want [*]", got)
	}

	if !svc.Exists("app.name") {
		t.Error("Exists(app.name) = false, want true")
	}
	if svc.Exists("no.such.path") {
		t.Error("Exists(no.such.path) = true, want false")
	}
	if got := svc.GetOr("no.such.path", "fallback"); got != "fallback" {
		t.Errorf("GetOr(no.such.path) = %v, want fallback", got)
	}
	if got := svc.GetOr("app.name", "fallback"); got != "nexus" {
		t.Errorf("GetOr(app.name) = %v, want nexus", got)
	}
}

func TestServiceSetAndGet(t *testing.T) {
	svc := newTestService(t)
	before := svc.Current()

	if err := svc.Set("app.name", "renamed"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got := svc.String("app.name"); got != "renamed" {
		t.Errorf("String(app.name) = %q, want renamed", got)
	}
	if got := svc.Current().App.Name; got != "renamed" {
		t.Errorf("Current().App.Name = %q, want renamed", got)
	}

	// Snapshots taken before the mutation are never touched.
	if before.App.Name != "nexus" {
		t.Errorf("old snapshot mutated: App.Name = %q, want nexus", before.App.Name)
	}
}

func TestServiceSetFailureLeavesStateUnchanged(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name  string
		path  string
		value interface{}
	}{
		{"port out of range", "api.port", 99999},
		{"unknown log format", "logging.format", "xml"},
		{"bad environment", "app.environment", "offworld"},
		{"zero bus queue", "event_bus.max_queue_size", 0},
		{"bad isolation level", "plugins.isolation.default_level", "container"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := svc.Get(tt.path)
			err := svc.Set(tt.path, tt.value)
			if err == nil {
				t.Fatalf("Set(%s, %v) should fail", tt.path, tt.value)
			}
			if !errs.IsKind(err, errs.KindConfiguration) {
				t.Errorf("error kind = %v, want ConfigurationError", errs.KindOf(err))
			}
			if got := svc.Get(tt.path); !reflect.DeepEqual(got, old) {
				t.Errorf("value changed after failed Set: %v -> %v", old, got)
			}
		})
	}
}

func TestServiceSetCrossRule(t *testing.T) {
	svc := newTestService(t)

	// Enabling the API with no JWT secret must be rejected.
	if err := svc.Set("api.enabled", true); err == nil {
		t.Fatal("enabling api without a jwt secret should fail")
	}
	if svc.Bool("api.enabled") {
		t.Error("api.enabled should remain false after rejected Set")
	}

	if err := svc.Set("security.jwt.secret", strings.Repeat("s", 32)); err != nil {
		t.Fatalf("setting jwt secret: %v", err)
	}
	if err := svc.Set("api.enabled", true); err != nil {
		t.Fatalf("enabling api with a secret present: %v", err)
	}
	if !svc.Bool("api.enabled") {
		t.Error("api.enabled should be true")
	}
}

func TestServiceSetNormalizesSlices(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Set("api.cors.origins", "https://x.example, https://y.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := []string{"https://x.example", "https://y.example"}
	if got := svc.Strings("api.cors.origins"); !reflect.DeepEqual(got, want) {
		t.Errorf("Strings(cors.origins) = %v, want %v", got, want)
	}
	if got := svc.Current().API.CORS.Origins; !reflect.DeepEqual(got, want) {
		t.Errorf("Current().API.CORS.Origins = %v, want %v", got, want)
	}
}

type recordedChange struct {
	listener string
	path     string
	oldValue interface{}
	newValue interface{}
}

func TestListenerPrefixMatching(t *testing.T) {
	svc := newTestService(t)

	var mu sync.Mutex
	var calls []recordedChange
	record := func(name string) ListenerFunc {
		return func(path string, oldValue, newValue interface{}) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, recordedChange{name, path, oldValue, newValue})
		}
	}

	svc.RegisterListener("section", "app", record("section"))
	svc.RegisterListener("exact", "app.name", record("exact"))
	svc.RegisterListener("boundary", "app.na", record("boundary"))
	svc.RegisterListener("other", "security", record("other"))

	if err := svc.Set("app.name", "changed"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("got %d callbacks, want 2: %+v", len(calls), calls)
	}
	if calls[0].listener != "section" || calls[1].listener != "exact" {
		t.Errorf("callback order = [%s %s], want [section exact]", calls[0].listener, calls[1].listener)
	}
	for _, c := range calls {
		if c.path != "app.name" {
			t.Errorf("callback path = %q, want app.name", c.path)
		}
		if c.oldValue != "nexus" || c.newValue != "changed" {
			t.Errorf("callback values = (%v, %v), want (nexus, changed)", c.oldValue, c.newValue)
		}
	}
}

func TestListenerRegistrationOrder(t *testing.T) {
	svc := newTestService(t)

	var mu sync.Mutex
	var order []string
	add := func(name string) ListenerFunc {
		return func(string, interface{}, interface{}) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	svc.RegisterListener("first", "app", add("first"))
	svc.RegisterListener("second", "app", add("second"))
	svc.RegisterListener("third", "app", add("third"))

	if err := svc.Set("app.debug", true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestListenerUnregister(t *testing.T) {
	svc := newTestService(t)

	called := 0
	svc.RegisterListener("gone", "app", func(string, interface{}, interface{}) { called++ })
	svc.UnregisterListener("gone")

	if err := svc.Set("app.name", "quiet"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if called != 0 {
		t.Errorf("unregistered listener fired %d times", called)
	}

	// Unregistering an unknown id is a no-op.
	svc.UnregisterListener("never-registered")
}

func TestListenerReRegisterReplaces(t *testing.T) {
	svc := newTestService(t)

	var mu sync.Mutex
	var order []string
	add := func(name string) ListenerFunc {
		return func(string, interface{}, interface{}) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	svc.RegisterListener("a", "app", add("a"))
	svc.RegisterListener("dup", "app", add("dup-old"))
	svc.RegisterListener("b", "app", add("b"))
	svc.RegisterListener("dup", "app", add("dup-new"))

	if err := svc.Set("app.name", "once"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "dup-new", "b"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("dispatch = %v, want %v (one call for dup, in original position)", order, want)
	}
}

func TestListenerPanicDoesNotAbortMutation(t *testing.T) {
	svc := newTestService(t)

	survived := false
	svc.RegisterListener("bad", "app", func(string, interface{}, interface{}) {
		panic("listener blew up")
	})
	svc.RegisterListener("good", "app", func(string, interface{}, interface{}) {
		survived = true
	})

	if err := svc.Set("app.name", "resilient"); err != nil {
		t.Fatalf("Set should succeed despite panicking listener: %v", err)
	}
	if got := svc.String("app.name"); got != "resilient" {
		t.Errorf("mutation lost: app.name = %q", got)
	}
	if !survived {
		t.Error("listener after the panicking one never ran")
	}
}

func TestServiceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: before\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	svc, err := NewService(Options{Path: path, EnvPrefix: testEnvPrefix})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if got := svc.String("app.name"); got != "before" {
		t.Fatalf("app.name = %q, want before", got)
	}

	var mu sync.Mutex
	var calls []recordedChange
	svc.RegisterListener("watcher", "app.name", func(path string, oldValue, newValue interface{}) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, recordedChange{"watcher", path, oldValue, newValue})
	})

	if err := os.WriteFile(path, []byte("app:\n  name: after\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := svc.String("app.name"); got != "after" {
		t.Errorf("app.name = %q, want after", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("got %d callbacks, want 1: %+v", len(calls), calls)
	}
	if calls[0].oldValue != "before" || calls[0].newValue != "after" {
		t.Errorf("callback values = (%v, %v), want (before, after)", calls[0].oldValue, calls[0].newValue)
	}
}

func TestServiceReloadInvalidKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: stable\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	svc, err := NewService(Options{Path: path, EnvPrefix: testEnvPrefix})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reload(); err == nil {
		t.Fatal("Reload with invalid file should fail")
	}

	if got := svc.String("app.name"); got != "stable" {
		t.Errorf("app.name = %q, want stable (previous config kept)", got)
	}
	if got := svc.String("logging.format"); got != "json" {
		t.Errorf("logging.format = %q, want json", got)
	}
}

func TestServiceConcurrentReadsDuringSet(t *testing.T) {
	svc := newTestService(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := svc.Set("app.debug", i%2 == 0); err != nil {
				t.Errorf("Set: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		_ = svc.Bool("app.debug")
		_ = svc.Current().App.Name
		_ = svc.Strings("api.cors.origins")
	}
	<-done
}
