// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/nexusruntime/nexus/internal/errs"
)

// DefaultEnvPrefix is the prefix stripped from environment overrides.
const DefaultEnvPrefix = "NEXUS_"

// EnvConfigPath names the environment variable that points at the
// config file when no explicit path is given.
const EnvConfigPath = "NEXUS_CONFIG_PATH"

// DefaultConfigPaths are probed in order when no path is configured.
var DefaultConfigPaths = []string{
	"nexus.yaml",
	"nexus.yml",
	"nexus.json",
	"config/nexus.yaml",
	"/etc/nexus/nexus.yaml",
}

// sliceConfigPaths are tree paths holding string slices. Environment
// and scalar file values at these paths are comma-split so both
// "a,b,c" and a proper list produce the same tree shape.
var sliceConfigPaths = []string{
	"api.cors.origins",
	"api.cors.methods",
	"api.cors.headers",
	"plugins.enabled",
	"plugins.disabled",
}

// durationConfigPaths are tree paths holding durations. Strings parse
// with time.ParseDuration; bare numbers are taken as seconds.
var durationConfigPaths = []string{
	"event_bus.publish_timeout",
	"plugins.isolation.invoke_timeout",
	"plugins.isolation.load_timeout",
}

// loadTree runs the three-layer pipeline and returns the merged tree
// together with its typed form. The returned Config has passed Validate.
func loadTree(path, envPrefix string) (*koanf.Koanf, *Config, error) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	k := koanf.New(".")

	// Layer 1: schema defaults.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, nil, errs.Wrap(errs.KindConfiguration, "failed to load default configuration", err)
	}

	// Layer 2: optional config file. A missing file is not an error,
	// an unsupported extension is.
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, perr := parserForFile(path)
			if perr != nil {
				return nil, nil, perr
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return nil, nil, errs.Wrap(errs.KindConfiguration, "failed to load config file "+path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, nil, errs.Wrap(errs.KindConfiguration, "failed to stat config file "+path, err)
		}
	}

	// Layer 3: environment overrides. The transform closes over the
	// current tree so coercion can follow the schema type of the
	// target path.
	keyMap := flatKeyMap(k)
	envProvider := env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		target := envKeyToPath(name, envPrefix, keyMap)
		if target == "" {
			return "", nil
		}
		return target, coerceEnvValue(value, k.Get(target))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, nil, errs.Wrap(errs.KindConfiguration, "failed to load environment overrides", err)
	}

	if err := normalizeTree(k); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, nil, errs.Wrap(errs.KindConfiguration, "configuration does not match schema", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return k, &cfg, nil
}

// parserForFile selects a parser by file extension.
func parserForFile(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, errs.Newf(errs.KindConfiguration,
			"unsupported config file extension %q (want .yaml, .yml, or .json)", filepath.Ext(path))
	}
}

// findConfigFile resolves the config file path: an explicit path wins,
// then NEXUS_CONFIG_PATH, then the first existing default location.
// Returns "" when nothing is found.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// flatKeyMap maps each known tree key with its dots replaced by single
// underscores back to the dotted path, resolving flat environment names
// like app_name against the schema. Ambiguous flat forms keep the
// lexically smallest path so resolution is deterministic.
func flatKeyMap(k *koanf.Koanf) map[string]string {
	keys := k.Keys()
	sort.Strings(keys)
	m := make(map[string]string, len(keys))
	for _, key := range keys {
		flat := strings.ReplaceAll(key, ".", "_")
		if _, taken := m[flat]; !taken {
			m[flat] = key
		}
	}
	return m
}

// envKeyToPath translates an environment variable name into a dotted
// tree path. Returns "" for names that should be ignored.
//
// NEXUS_THREAD_POOL__WORKER_THREADS -> thread_pool.worker_threads
// NEXUS_APP_NAME                    -> app.name (via the flat key map)
// NEXUS_PLUGINS__CUSTOM_OPTION      -> plugins.custom_option
func envKeyToPath(name, prefix string, keyMap map[string]string) string {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, strings.ToUpper(prefix)) {
		return ""
	}
	rest := strings.ToLower(name[len(prefix):])
	if rest == "" || rest == "config_path" {
		return ""
	}

	// Explicit segment delimiter: single underscores stay inside the
	// segment, so compound keys survive.
	if strings.Contains(rest, "__") {
		segs := strings.Split(rest, "__")
		for i := range segs {
			segs[i] = strings.Trim(segs[i], "_")
		}
		return strings.Join(segs, ".")
	}

	if path, ok := keyMap[rest]; ok {
		return path
	}
	return ""
}

// coerceEnvValue parses a raw environment string. When the target path
// already exists in the tree its current type decides the parse, so
// "1" assigned to an integer option stays an integer while "1" on a
// boolean option becomes true. Unknown paths fall back to the generic
// table: boolean words, then integer, then float, then string.
func coerceEnvValue(raw string, hint interface{}) interface{} {
	switch hint.(type) {
	case bool:
		if b, ok := parseBoolWord(raw); ok {
			return b
		}
		return raw
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return n
		}
		return raw
	case float32, float64:
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return f
		}
		return raw
	case time.Duration:
		if d, ok := parseDurationValue(raw); ok {
			return d
		}
		return raw
	case string:
		return raw
	case []string, []interface{}:
		// Comma handling happens in normalizeTree.
		return raw
	}

	if b, ok := parseBoolWord(raw); ok {
		return b
	}
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return raw
}

// parseBoolWord recognizes the boolean spellings accepted in
// environment values.
func parseBoolWord(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true, true
	case "false", "no", "0", "off":
		return false, true
	}
	return false, false
}

// parseDurationValue accepts Go duration strings and bare numbers,
// which are read as seconds.
func parseDurationValue(raw string) (time.Duration, bool) {
	trimmed := strings.TrimSpace(raw)
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, true
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}

// normalizeTree rewrites slice and duration leaves into their canonical
// tree representation so direct tree reads and the unmarshaled struct
// agree regardless of which layer supplied the value.
func normalizeTree(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw := k.Get(path)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if err := k.Set(path, out); err != nil {
			return errs.Wrap(errs.KindConfiguration, "failed to normalize "+path, err)
		}
	}

	for _, path := range durationConfigPaths {
		switch v := k.Get(path).(type) {
		case nil, time.Duration:
			continue
		case string:
			d, ok := parseDurationValue(v)
			if !ok {
				return errs.Newf(errs.KindConfiguration, "%s: %q is not a valid duration", path, v)
			}
			if err := k.Set(path, d); err != nil {
				return errs.Wrap(errs.KindConfiguration, "failed to normalize "+path, err)
			}
		case int:
			if err := k.Set(path, time.Duration(v)*time.Second); err != nil {
				return errs.Wrap(errs.KindConfiguration, "failed to normalize "+path, err)
			}
		case int64:
			if err := k.Set(path, time.Duration(v)*time.Second); err != nil {
				return errs.Wrap(errs.KindConfiguration, "failed to normalize "+path, err)
			}
		case float64:
			if err := k.Set(path, time.Duration(v*float64(time.Second))); err != nil {
				return errs.Wrap(errs.KindConfiguration, "failed to normalize "+path, err)
			}
		}
	}
	return nil
}
