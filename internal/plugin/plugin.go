// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package plugin loads third-party code into bounded execution contexts
// and dispatches method invocations into them.
//
// A plugin is anything satisfying the Plugin contract, delivered one of
// three ways: a built-in factory registered at init time (trusted, may
// run inline), a shared object exposing a NewPlugin symbol, or an
// executable child process speaking newline-delimited JSON on
// stdin/stdout. Capability hooks (Initialize, Shutdown, Invoke) are
// discovered by type assertion.
//
// The Manager owns one handle per plugin id. Invocations to the same
// (plugin, method) pair are serialized; different methods of one plugin
// run concurrently. Each handle carries a rate budget and a circuit
// breaker: a persistently failing plugin is excluded from invocation
// until a half-open probe succeeds.
package plugin

import (
	"context"
	"fmt"
	goplugin "plugin"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/errs"
)

// Plugin is the minimal contract every plugin fulfills.
type Plugin interface {
	// Name reports the plugin's self-declared name.
	Name() string

	// Version reports the plugin's self-declared version.
	Version() string
}

// Initializer is implemented by plugins that need a startup hook. It
// runs once during Load, under the configured load timeout; an error
// fails the load and leaves no handle.
type Initializer interface {
	Initialize(ctx context.Context, host HostAPI) error
}

// ShutdownHook is implemented by plugins that need a teardown hook. It
// runs during Unload under a bounded timeout; errors are logged, never
// returned to the caller.
type ShutdownHook interface {
	Shutdown(ctx context.Context) error
}

// Invoker is implemented by plugins that expose callable methods.
// Plugins without it can be loaded but not invoked.
type Invoker interface {
	Invoke(ctx context.Context, method string, args map[string]any) (any, error)
}

// HostAPI is the narrow surface the runtime hands to a plugin during
// Initialize. It is scoped to the plugin: events carry the plugin as
// source and the data directory is private to it.
type HostAPI interface {
	// Logger returns a logger tagged with the plugin id.
	Logger() zerolog.Logger

	// PublishEvent puts an event on the runtime bus.
	PublishEvent(eventType string, payload map[string]any) error

	// DataDir returns the plugin's private writable directory.
	DataDir() string
}

// Built-in factory registry. Factories register from init functions,
// the way database/sql drivers do.
var (
	builtinsMu sync.RWMutex
	builtins   = make(map[string]func() Plugin)
)

// Register makes a built-in plugin factory available under name.
// Registering a nil factory or the same name twice panics.
func Register(name string, factory func() Plugin) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	if factory == nil {
		panic("plugin: Register factory is nil")
	}
	if _, dup := builtins[name]; dup {
		panic(fmt.Sprintf("plugin: Register called twice for %q", name))
	}
	builtins[name] = factory
}

// Builtins lists the registered built-in plugin names.
func Builtins() []string {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtin(name string) (Plugin, error) {
	builtinsMu.RLock()
	factory, ok := builtins[name]
	builtinsMu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindPluginIsolation, "no built-in plugin registered as %q", name)
	}
	return factory(), nil
}

// openShared loads a plugin from a shared object. The object must
// export NewPlugin as either func() Plugin or func() any; the latter
// lets out-of-tree objects satisfy the contract structurally without
// importing this package.
func openShared(path string) (Plugin, error) {
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to open plugin object", err).
			WithDetail("path", path)
	}
	sym, err := so.Lookup(factorySymbol)
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation,
			fmt.Sprintf("plugin object does not export %s", factorySymbol), err).
			WithDetail("path", path)
	}

	switch f := sym.(type) {
	case func() Plugin:
		return f(), nil
	case func() any:
		p, ok := f().(Plugin)
		if !ok {
			return nil, errs.Newf(errs.KindPluginIsolation,
				"%s result does not satisfy the plugin contract", factorySymbol)
		}
		return p, nil
	default:
		return nil, errs.Newf(errs.KindPluginIsolation,
			"%s has unsupported type %T", factorySymbol, sym)
	}
}

// factorySymbol is the well-known constructor every shared object exports.
const factorySymbol = "NewPlugin"

// sharedObjectSuffix marks paths loaded via the plugin package.
const sharedObjectSuffix = ".so"

func isSharedObject(path string) bool {
	return strings.HasSuffix(path, sharedObjectSuffix)
}
