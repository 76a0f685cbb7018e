// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
)

// ListenerFunc receives change notifications. path is the mutated key;
// oldValue is nil when the key did not previously exist.
type ListenerFunc func(path string, oldValue, newValue interface{})

type listenerEntry struct {
	id     string
	prefix string
	fn     ListenerFunc
}

// Options configures Service construction.
type Options struct {
	// Path is the config file location. Empty means probe
	// NEXUS_CONFIG_PATH and DefaultConfigPaths; a probe miss falls
	// back to defaults plus environment.
	Path string

	// EnvPrefix overrides DefaultEnvPrefix, mainly for tests.
	EnvPrefix string
}

// Service is the runtime configuration store. Reads are copy-on-write:
// every successful mutation swaps in a fresh tree and typed snapshot,
// so values handed out earlier are never mutated underneath a caller.
type Service struct {
	opts Options

	mu  sync.RWMutex // guards k and cfg
	k   *koanf.Koanf
	cfg *Config

	// setMu serializes mutations end to end, including listener
	// dispatch, so listeners observe changes in mutation order.
	// Listeners must not call Set or Reload.
	setMu sync.Mutex

	lmu       sync.Mutex
	listeners []listenerEntry

	fp       *file.File
	watching bool
}

// NewService loads the configuration and returns the runtime store.
func NewService(opts Options) (*Service, error) {
	path := findConfigFile(opts.Path)
	k, cfg, err := loadTree(path, opts.EnvPrefix)
	if err != nil {
		return nil, err
	}
	resolved := opts
	resolved.Path = path
	return &Service{opts: resolved, k: k, cfg: cfg}, nil
}

// Current returns the typed configuration snapshot. The returned value
// is shared; callers must treat it as read-only.
func (s *Service) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// FilePath returns the resolved config file path, or "" when running
// on defaults plus environment only.
func (s *Service) FilePath() string {
	return s.opts.Path
}

// Get returns the raw value at path, or nil when absent.
func (s *Service) Get(path string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Get(path)
}

// GetOr returns the value at path, or def when the path is absent.
func (s *Service) GetOr(path string, def interface{}) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.k.Exists(path) {
		return def
	}
	return s.k.Get(path)
}

// Exists reports whether path is present in the tree.
func (s *Service) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Exists(path)
}

// String returns the string at path, or "" when absent.
func (s *Service) String(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.String(path)
}

// Int returns the integer at path, or 0 when absent.
func (s *Service) Int(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Int(path)
}

// Bool returns the boolean at path, or false when absent.
func (s *Service) Bool(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Bool(path)
}

// Float returns the float at path, or 0 when absent.
func (s *Service) Float(path string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Float64(path)
}

// Strings returns the string slice at path, or nil when absent.
func (s *Service) Strings(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Strings(path)
}

// Duration returns the duration at path. Strings parse with
// time.ParseDuration and bare numbers are seconds, matching the load
// pipeline. Absent or unparseable values return 0.
func (s *Service) Duration(path string) time.Duration {
	s.mu.RLock()
	v := s.k.Get(path)
	s.mu.RUnlock()

	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, ok := parseDurationValue(d); ok {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return 0
}

// Set validates and applies a single mutation. The change is staged on
// a copy of the tree; if the resulting configuration fails validation
// the live tree is untouched and the error is returned. On success
// listeners registered for a matching prefix fire synchronously on the
// calling goroutine, in registration order.
func (s *Service) Set(path string, value interface{}) error {
	if path == "" {
		return errs.New(errs.KindConfiguration, "config path cannot be empty")
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.RLock()
	old := s.k.Get(path)
	cand := s.k.Copy()
	s.mu.RUnlock()

	if err := cand.Set(path, value); err != nil {
		return errs.Wrap(errs.KindConfiguration, "failed to set "+path, err)
	}
	if err := normalizeTree(cand); err != nil {
		return err
	}

	var cfg Config
	if err := cand.Unmarshal("", &cfg); err != nil {
		return errs.Wrap(errs.KindConfiguration, "value at "+path+" does not match schema", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.k = cand
	s.cfg = &cfg
	s.mu.Unlock()

	s.notify(path, old, cand.Get(path))
	return nil
}

// RegisterListener registers fn for changes where the mutated path
// equals prefix or starts with prefix + ".". Registering an id twice
// replaces the callback without changing its position in the dispatch
// order, so a re-registered listener still fires exactly once.
func (s *Service) RegisterListener(id, prefix string, fn ListenerFunc) {
	if fn == nil {
		return
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i := range s.listeners {
		if s.listeners[i].id == id {
			s.listeners[i].prefix = prefix
			s.listeners[i].fn = fn
			return
		}
	}
	s.listeners = append(s.listeners, listenerEntry{id: id, prefix: prefix, fn: fn})
}

// UnregisterListener removes the listener with the given id. Removing
// an unknown id is a no-op.
func (s *Service) UnregisterListener(id string) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i := range s.listeners {
		if s.listeners[i].id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// notify dispatches one change to all matching listeners. A panicking
// listener is logged and skipped; it never aborts the mutation or the
// remaining listeners.
func (s *Service) notify(path string, oldValue, newValue interface{}) {
	s.lmu.Lock()
	snapshot := make([]listenerEntry, len(s.listeners))
	copy(snapshot, s.listeners)
	s.lmu.Unlock()

	for _, entry := range snapshot {
		if !prefixMatches(entry.prefix, path) {
			continue
		}
		s.invokeListener(entry, path, oldValue, newValue)
	}
}

func (s *Service) invokeListener(entry listenerEntry, path string, oldValue, newValue interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("listener", entry.id).
				Str("path", path).
				Interface("panic", r).
				Msg("Config listener panicked")
		}
	}()
	entry.fn(path, oldValue, newValue)
}

// prefixMatches reports whether a change at path concerns a listener
// registered for prefix. An empty prefix matches every change.
func prefixMatches(prefix, path string) bool {
	if prefix == "" || prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// Watch starts re-running the load pipeline whenever the config file
// changes on disk. Changed leaves are diffed against the previous tree
// and dispatched to listeners one path at a time. No-op when the
// service runs without a file.
func (s *Service) Watch() error {
	if s.opts.Path == "" {
		return nil
	}
	if s.watching {
		return nil
	}

	fp := file.Provider(s.opts.Path)
	err := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			logging.Error().Err(err).Str("path", s.opts.Path).Msg("Config watch error")
			return
		}
		if rerr := s.Reload(); rerr != nil {
			logging.Error().Err(rerr).Str("path", s.opts.Path).Msg("Config reload rejected, keeping previous configuration")
		}
	})
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "failed to watch config file "+s.opts.Path, err)
	}

	s.fp = fp
	s.watching = true
	logging.Info().Str("path", s.opts.Path).Msg("Watching config file for changes")
	return nil
}

// Reload re-runs the full pipeline and swaps the result in atomically.
// Listeners fire once per changed leaf, in lexical path order.
func (s *Service) Reload() error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	k, cfg, err := loadTree(s.opts.Path, s.opts.EnvPrefix)
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldLeaves := s.k.All()
	s.k = k
	s.cfg = cfg
	s.mu.Unlock()

	newLeaves := k.All()
	changed := diffLeaves(oldLeaves, newLeaves)
	for _, path := range changed {
		s.notify(path, oldLeaves[path], newLeaves[path])
	}
	if len(changed) > 0 {
		logging.Info().Int("changed", len(changed)).Msg("Configuration reloaded")
	}
	return nil
}

// Close stops the file watcher if one is running.
func (s *Service) Close() error {
	if !s.watching {
		return nil
	}
	s.watching = false
	if err := s.fp.Unwatch(); err != nil {
		return errs.Wrap(errs.KindConfiguration, "failed to stop config watcher", err)
	}
	return nil
}

// diffLeaves returns the sorted set of paths whose values differ
// between two flattened trees, including added and removed paths.
// DeepEqual keeps slice-valued leaves from panicking an == comparison.
func diffLeaves(before, after map[string]interface{}) []string {
	changed := make([]string, 0)
	for path, newVal := range after {
		oldVal, existed := before[path]
		if !existed || !reflect.DeepEqual(oldVal, newVal) {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, still := after[path]; !still {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
