// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nexusruntime/nexus/internal/concurrency"
	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
	"github.com/nexusruntime/nexus/internal/models"
)

// Bus events emitted by the manager.
const (
	EventPluginLoaded   = "plugin/loaded"
	EventPluginUnloaded = "plugin/unloaded"

	eventSource = "plugin"
)

// Breaker defaults. A handle is excluded after five consecutive
// failures and probed again after the cooldown.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	breakerCountInterval    = time.Minute
)

// unloadTimeout caps the optional Shutdown hook during Unload.
const unloadTimeout = 10 * time.Second

// EventPublisher is the slice of the event bus the manager needs.
type EventPublisher interface {
	Publish(eventType, source string, payload map[string]any) (uuid.UUID, error)
}

// LoadOption customizes one Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	limits           models.ResourceLimits
	metadata         map[string]any
	breakerThreshold uint32
	breakerCooldown  time.Duration
}

// WithResourceLimits applies invocation budgets to the handle.
func WithResourceLimits(l models.ResourceLimits) LoadOption {
	return func(o *loadOptions) { o.limits = l }
}

// WithMetadata attaches descriptor annotations to the handle.
func WithMetadata(md map[string]any) LoadOption {
	return func(o *loadOptions) { o.metadata = md }
}

// WithBreakerPolicy overrides how many consecutive failures exclude the
// plugin and how long until the half-open probe.
func WithBreakerPolicy(consecutiveFailures uint32, cooldown time.Duration) LoadOption {
	return func(o *loadOptions) {
		o.breakerThreshold = consecutiveFailures
		o.breakerCooldown = cooldown
	}
}

// handle is the manager's record of one loaded plugin.
type handle struct {
	id       string
	plugin   Plugin
	path     string
	level    models.IsolationLevel
	loadedAt time.Time
	limits   models.ResourceLimits
	metadata map[string]any

	mu       sync.Mutex
	methodMu map[string]*sync.Mutex
	healthy  bool
	enabled  bool
	lastErr  string

	limiter *rate.Limiter // nil when unlimited
	sem     chan struct{} // nil when concurrency is unbounded
	breaker *gobreaker.CircuitBreaker[any]
}

func newHandle(id string, p Plugin, path string, level models.IsolationLevel, opts loadOptions, logger zerolog.Logger) *handle {
	h := &handle{
		id:       id,
		plugin:   p,
		path:     path,
		level:    level,
		loadedAt: time.Now().UTC(),
		limits:   opts.limits,
		metadata: opts.metadata,
		methodMu: make(map[string]*sync.Mutex),
		healthy:  true,
		enabled:  true,
	}

	if opts.limits.InvocationsPerSecond > 0 {
		burst := opts.limits.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.limits.InvocationsPerSecond), burst)
	}
	if opts.limits.MaxConcurrent > 0 {
		h.sem = make(chan struct{}, opts.limits.MaxConcurrent)
	}

	h.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    breakerCountInterval,
		Timeout:     opts.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.PluginBreakerState.WithLabelValues(name).Set(float64(to))
			switch to {
			case gobreaker.StateOpen:
				h.noteExclusion("excluded after repeated failures")
				logger.Warn().Str("plugin_id", name).Msg("Plugin circuit opened; invocations excluded")
			case gobreaker.StateClosed:
				h.noteRecovery()
				logger.Info().Str("plugin_id", name).Msg("Plugin circuit closed; invocations resumed")
			}
		},
	})
	return h
}

func (h *handle) methodLock(method string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.methodMu[method]
	if !ok {
		lock = &sync.Mutex{}
		h.methodMu[method] = lock
	}
	return lock
}

func (h *handle) isEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *handle) setEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
}

func (h *handle) noteExclusion(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = false
	h.lastErr = reason
}

func (h *handle) noteRecovery() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = true
	h.lastErr = ""
}

func (h *handle) info() models.PluginInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return models.PluginInfo{
		ID:             h.id,
		Name:           h.plugin.Name(),
		Version:        h.plugin.Version(),
		Path:           h.path,
		IsolationLevel: h.level,
		LoadedAt:       h.loadedAt,
		Healthy:        h.healthy,
		Enabled:        h.enabled,
		Error:          h.lastErr,
		ResourceLimits: h.limits,
		Metadata:       h.metadata,
	}
}

// Manager owns plugin handles and dispatches invocations into them.
type Manager struct {
	cfg    config.PluginsConfig
	files  config.FilesConfig
	pools  *concurrency.Facility
	events EventPublisher
	logger zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*handle
}

// NewManager builds the isolation manager. events may be nil.
func NewManager(cfg config.PluginsConfig, files config.FilesConfig, pools *concurrency.Facility, events EventPublisher) *Manager {
	return &Manager{
		cfg:     cfg,
		files:   files,
		pools:   pools,
		events:  events,
		logger:  logging.Named("plugin"),
		handles: make(map[string]*handle),
	}
}

// Load instantiates a plugin and stores its handle under pluginID.
// Reloading an id unloads the previous instance first; a failed load
// leaves no handle behind.
func (m *Manager) Load(ctx context.Context, pluginID, path string, level models.IsolationLevel, opts ...LoadOption) error {
	if pluginID == "" {
		return errs.New(errs.KindValidation, "plugin id cannot be empty")
	}
	if level == "" {
		level = models.IsolationLevel(m.cfg.Isolation.DefaultLevel)
	}
	if !models.IsValidIsolationLevel(level) {
		return errs.Newf(errs.KindValidation, "unknown isolation level %q", level)
	}

	options := loadOptions{
		breakerThreshold: defaultBreakerThreshold,
		breakerCooldown:  defaultBreakerCooldown,
	}
	for _, opt := range opts {
		opt(&options)
	}

	m.mu.RLock()
	_, loaded := m.handles[pluginID]
	m.mu.RUnlock()
	if loaded {
		if err := m.Unload(ctx, pluginID); err != nil {
			return err
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout())
	defer cancel()

	p, err := m.resolve(loadCtx, pluginID, path, level)
	if err != nil {
		return err
	}

	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(loadCtx, m.hostFor(pluginID)); err != nil {
			m.discard(p)
			return errs.Wrap(errs.KindPluginIsolation,
				fmt.Sprintf("plugin %q initialization failed", pluginID), err)
		}
	}

	h := newHandle(pluginID, p, path, level, options, m.logger)

	m.mu.Lock()
	m.handles[pluginID] = h
	count := len(m.handles)
	m.mu.Unlock()
	metrics.PluginsLoaded.Set(float64(count))

	m.publish(EventPluginLoaded, map[string]any{
		"plugin_id":       pluginID,
		"name":            p.Name(),
		"version":         p.Version(),
		"isolation_level": string(level),
	})
	m.logger.Info().
		Str("plugin_id", pluginID).
		Str("name", p.Name()).
		Str("version", p.Version()).
		Str("isolation_level", string(level)).
		Str("path", path).
		Msg("Plugin loaded")
	return nil
}

// resolve picks the plugin source for the path and isolation level.
func (m *Manager) resolve(ctx context.Context, pluginID, path string, level models.IsolationLevel) (Plugin, error) {
	switch {
	case level == models.IsolationProcess:
		if path == "" {
			return nil, errs.New(errs.KindValidation, "process isolation requires an executable path")
		}
		if isSharedObject(path) {
			return nil, errs.New(errs.KindValidation, "shared objects cannot run out of process")
		}
		return startStdioPlugin(ctx, path, m.logger.With().Str("plugin_id", pluginID).Logger())
	case path == "":
		return builtin(pluginID)
	case isSharedObject(path):
		if level == models.IsolationNone {
			return nil, errs.New(errs.KindValidation, "inline isolation is reserved for built-in plugins")
		}
		return openShared(path)
	default:
		return nil, errs.Newf(errs.KindValidation,
			"cannot determine plugin source for %q (expected empty, .so, or process level)", path)
	}
}

// discard tears down a plugin that never got a handle.
func (m *Manager) discard(p Plugin) {
	if hook, ok := p.(ShutdownHook); ok {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		_ = hook.Shutdown(ctx)
	}
}

// Unload runs the plugin's optional shutdown hook under a bounded
// timeout and releases the handle.
func (m *Manager) Unload(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	h, ok := m.handles[pluginID]
	if ok {
		delete(m.handles, pluginID)
	}
	count := len(m.handles)
	m.mu.Unlock()
	if !ok {
		return errs.Newf(errs.KindPluginIsolation, "plugin %q is not loaded", pluginID)
	}
	metrics.PluginsLoaded.Set(float64(count))

	if hook, okHook := h.plugin.(ShutdownHook); okHook {
		// The hook gets its own window even when the caller is
		// already tearing down.
		hookCtx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		if err := hook.Shutdown(hookCtx); err != nil {
			m.logger.Warn().Err(err).Str("plugin_id", pluginID).Msg("Plugin shutdown hook failed")
		}
	}

	m.publish(EventPluginUnloaded, map[string]any{"plugin_id": pluginID})
	m.logger.Info().Str("plugin_id", pluginID).Msg("Plugin unloaded")
	return nil
}

// Invoke dispatches one method call according to the plugin's isolation
// level. Calls to the same (plugin, method) pair are serialized;
// different methods run concurrently.
func (m *Manager) Invoke(ctx context.Context, pluginID, method string, args map[string]any, timeout time.Duration) (any, error) {
	m.mu.RLock()
	h, ok := m.handles[pluginID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindPluginIsolation, "plugin %q is not loaded", pluginID)
	}
	if !h.isEnabled() {
		metrics.RecordPluginInvocation(pluginID, method, "rejected", 0)
		return nil, errs.Newf(errs.KindPluginIsolation, "plugin %q is disabled", pluginID)
	}
	inv, ok := h.plugin.(Invoker)
	if !ok {
		return nil, errs.Newf(errs.KindPluginIsolation, "plugin %q does not expose methods", pluginID)
	}

	if h.limiter != nil && !h.limiter.Allow() {
		metrics.RecordPluginInvocation(pluginID, method, "rejected", 0)
		return nil, errs.Newf(errs.KindPluginIsolation,
			"plugin %q invocation rate budget exhausted", pluginID)
	}
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			defer func() { <-h.sem }()
		default:
			metrics.RecordPluginInvocation(pluginID, method, "rejected", 0)
			return nil, errs.Newf(errs.KindPluginIsolation,
				"plugin %q concurrency budget exhausted", pluginID)
		}
	}

	if timeout <= 0 {
		timeout = m.invokeTimeout()
	}

	lock := h.methodLock(method)
	lock.Lock()
	defer lock.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := h.breaker.Execute(func() (any, error) {
		return m.dispatch(callCtx, h, inv, method, args)
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordPluginInvocation(pluginID, method, "success", duration)
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordPluginInvocation(pluginID, method, "rejected", duration)
		return nil, errs.Newf(errs.KindPluginIsolation,
			"plugin %q is excluded after repeated failures", pluginID)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.RecordPluginInvocation(pluginID, method, "timeout", duration)
		return nil, errs.Wrap(errs.KindPluginIsolation,
			fmt.Sprintf("invocation of %s.%s timed out after %s", pluginID, method, timeout), err)
	case errors.Is(err, context.Canceled):
		metrics.RecordPluginInvocation(pluginID, method, "error", duration)
		return nil, err
	default:
		metrics.RecordPluginInvocation(pluginID, method, "error", duration)
		return nil, errs.Wrap(errs.KindPluginIsolation,
			fmt.Sprintf("plugin %s method %s failed", pluginID, method), err)
	}
}

// dispatch runs the call at the handle's isolation level: inline for
// trusted built-ins, on the I/O pool for thread level, and through the
// stdio transport for process level (the child is the boundary).
func (m *Manager) dispatch(ctx context.Context, h *handle, inv Invoker, method string, args map[string]any) (any, error) {
	call := func(ctx context.Context) (any, error) {
		return inv.Invoke(ctx, method, args)
	}
	if h.level == models.IsolationThread {
		task, err := m.pools.RunIO(ctx, "plugin/"+h.id+"/"+method, call)
		if err != nil {
			return nil, err
		}
		return task.Await(ctx)
	}
	return call(ctx)
}

// Enable clears an administrative disable.
func (m *Manager) Enable(pluginID string) error {
	return m.setEnabled(pluginID, true)
}

// Disable keeps the plugin loaded but rejects invocations.
func (m *Manager) Disable(pluginID string) error {
	return m.setEnabled(pluginID, false)
}

func (m *Manager) setEnabled(pluginID string, enabled bool) error {
	m.mu.RLock()
	h, ok := m.handles[pluginID]
	m.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.KindPluginIsolation, "plugin %q is not loaded", pluginID)
	}
	h.setEnabled(enabled)
	m.logger.Info().Str("plugin_id", pluginID).Bool("enabled", enabled).Msg("Plugin availability changed")
	return nil
}

// Info snapshots one loaded plugin.
func (m *Manager) Info(pluginID string) (models.PluginInfo, error) {
	m.mu.RLock()
	h, ok := m.handles[pluginID]
	m.mu.RUnlock()
	if !ok {
		return models.PluginInfo{}, errs.Newf(errs.KindPluginIsolation, "plugin %q is not loaded", pluginID)
	}
	return h.info(), nil
}

// List snapshots every loaded plugin, sorted by id.
func (m *Manager) List() []models.PluginInfo {
	m.mu.RLock()
	infos := make([]models.PluginInfo, 0, len(m.handles))
	for _, h := range m.handles {
		infos = append(infos, h.info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Autoload scans the configured plugin directory and loads what it
// finds: shared objects at thread level, executables at process level.
// plugins.disabled always skips; a non-empty plugins.enabled is a
// whitelist. Individual failures are logged and skipped.
func (m *Manager) Autoload(ctx context.Context) (int, error) {
	if m.cfg.Directory == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.cfg.Directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug().Str("directory", m.cfg.Directory).Msg("Plugin directory absent; nothing to autoload")
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindConfiguration, "cannot read plugin directory", err).
			WithDetail("directory", m.cfg.Directory)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if m.skipAutoload(id) {
			continue
		}

		path := filepath.Join(m.cfg.Directory, name)
		var level models.IsolationLevel
		switch {
		case isSharedObject(name):
			// Shared objects live in-process; thread is the only
			// isolation that fits them here.
			level = models.IsolationThread
		case isExecutable(entry):
			level = models.IsolationProcess
		default:
			continue
		}

		if err := m.Load(ctx, id, path, level); err != nil {
			m.logger.Warn().Err(err).Str("plugin_id", id).Msg("Autoload failed; plugin skipped")
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (m *Manager) skipAutoload(id string) bool {
	if slices.Contains(m.cfg.Disabled, id) {
		return true
	}
	return len(m.cfg.Enabled) > 0 && !slices.Contains(m.cfg.Enabled, id)
}

func isExecutable(entry fs.DirEntry) bool {
	info, err := entry.Info()
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// Shutdown unloads every plugin.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("plugin_id", id).Msg("Unload during shutdown failed")
		}
	}
	return nil
}

func (m *Manager) hostFor(pluginID string) HostAPI {
	dir := filepath.Join(m.files.PluginDataDirectory, pluginID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		m.logger.Warn().Err(err).Str("plugin_id", pluginID).Msg("Could not create plugin data directory")
	}
	return &pluginHost{
		id:     pluginID,
		dir:    dir,
		events: m.events,
		logger: m.logger.With().Str("plugin_id", pluginID).Logger(),
	}
}

func (m *Manager) publish(eventType string, payload map[string]any) {
	if m.events == nil {
		return
	}
	if _, err := m.events.Publish(eventType, eventSource, payload); err != nil {
		m.logger.Warn().Err(err).Str("event_type", eventType).Msg("Failed to publish plugin event")
	}
}

func (m *Manager) invokeTimeout() time.Duration {
	if m.cfg.Isolation.InvokeTimeout > 0 {
		return m.cfg.Isolation.InvokeTimeout
	}
	return 30 * time.Second
}

func (m *Manager) loadTimeout() time.Duration {
	if m.cfg.Isolation.LoadTimeout > 0 {
		return m.cfg.Isolation.LoadTimeout
	}
	return 10 * time.Second
}

// pluginHost is the per-plugin HostAPI handed to Initialize.
type pluginHost struct {
	id     string
	dir    string
	events EventPublisher
	logger zerolog.Logger
}

func (h *pluginHost) Logger() zerolog.Logger { return h.logger }

func (h *pluginHost) PublishEvent(eventType string, payload map[string]any) error {
	if h.events == nil {
		return nil
	}
	_, err := h.events.Publish(eventType, "plugin:"+h.id, payload)
	return err
}

func (h *pluginHost) DataDir() string { return h.dir }
