// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/nexusruntime/nexus/internal/errs"
)

// testEnvPrefix keeps most tests insulated from real NEXUS_ variables
// in the environment. Tests that exercise the default prefix say so.
const testEnvPrefix = "NEXUSTEST_"

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.App.Name != "nexus" {
		t.Errorf("App.Name = %q, want nexus", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("App.Environment = %q, want development", cfg.App.Environment)
	}

	// API is opt-in so a bare default tree validates without a secret.
	if cfg.API.Enabled {
		t.Error("API.Enabled should be false by default")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want 8000", cfg.API.Port)
	}

	if cfg.Security.JWT.Algorithm != "HS256" {
		t.Errorf("JWT.Algorithm = %q, want HS256", cfg.Security.JWT.Algorithm)
	}
	if cfg.Security.JWT.AccessTokenExpireMinutes != 30 {
		t.Errorf("JWT.AccessTokenExpireMinutes = %d, want 30", cfg.Security.JWT.AccessTokenExpireMinutes)
	}
	if cfg.Security.JWT.RefreshTokenExpireDays != 7 {
		t.Errorf("JWT.RefreshTokenExpireDays = %d, want 7", cfg.Security.JWT.RefreshTokenExpireDays)
	}

	if cfg.EventBus.MaxQueueSize != 1000 {
		t.Errorf("EventBus.MaxQueueSize = %d, want 1000", cfg.EventBus.MaxQueueSize)
	}
	if cfg.EventBus.PublishTimeout != 5*time.Second {
		t.Errorf("EventBus.PublishTimeout = %v, want 5s", cfg.EventBus.PublishTimeout)
	}

	if cfg.Monitoring.MetricsIntervalSeconds != 10 {
		t.Errorf("Monitoring.MetricsIntervalSeconds = %d, want 10", cfg.Monitoring.MetricsIntervalSeconds)
	}
	if cfg.Monitoring.AlertThresholds.CPUPercent != 80 {
		t.Errorf("AlertThresholds.CPUPercent = %g, want 80", cfg.Monitoring.AlertThresholds.CPUPercent)
	}
	if cfg.Monitoring.AlertThresholds.MemoryPercent != 85 {
		t.Errorf("AlertThresholds.MemoryPercent = %g, want 85", cfg.Monitoring.AlertThresholds.MemoryPercent)
	}
	if cfg.Monitoring.AlertThresholds.DiskPercent != 90 {
		t.Errorf("AlertThresholds.DiskPercent = %g, want 90", cfg.Monitoring.AlertThresholds.DiskPercent)
	}

	if cfg.Plugins.Isolation.DefaultLevel != "thread" {
		t.Errorf("Isolation.DefaultLevel = %q, want thread", cfg.Plugins.Isolation.DefaultLevel)
	}
	if cfg.Plugins.Isolation.InvokeTimeout != 30*time.Second {
		t.Errorf("Isolation.InvokeTimeout = %v, want 30s", cfg.Plugins.Isolation.InvokeTimeout)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %q/%q, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Database.Type != "memory" {
		t.Errorf("Database.Type = %q, want memory", cfg.Database.Type)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func defaultsKoanf(t *testing.T) *koanf.Koanf {
	t.Helper()
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return k
}

func TestEnvKeyToPath(t *testing.T) {
	keyMap := flatKeyMap(defaultsKoanf(t))

	tests := []struct {
		name string
		want string
	}{
		// Flat names resolved against the schema.
		{"NEXUS_APP_NAME", "app.name"},
		{"NEXUS_API_PORT", "api.port"},
		{"NEXUS_LOGGING_LEVEL", "logging.level"},
		{"NEXUS_EVENT_BUS_MAX_QUEUE_SIZE", "event_bus.max_queue_size"},
		{"NEXUS_THREAD_POOL_WORKER_THREADS", "thread_pool.worker_threads"},
		{"NEXUS_SECURITY_JWT_SECRET", "security.jwt.secret"},

		// Explicit double-underscore delimiting.
		{"NEXUS_THREAD_POOL__WORKER_THREADS", "thread_pool.worker_threads"},
		{"NEXUS_SECURITY__JWT__SECRET", "security.jwt.secret"},
		{"NEXUS_MONITORING__ALERT_THRESHOLDS__CPU_PERCENT", "monitoring.alert_thresholds.cpu_percent"},
		{"NEXUS_PLUGINS__SAMPLE_RATE", "plugins.sample_rate"},

		// Prefix matching is case-insensitive.
		{"nexus_app_name", "app.name"},

		// Ignored names.
		{"NEXUS_CONFIG_PATH", ""},
		{"NEXUS_NO_SUCH_OPTION", ""},
		{"PATH", ""},
		{"HOME", ""},
		{"NEXUSX_APP_NAME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := envKeyToPath(tt.name, DefaultEnvPrefix, keyMap)
			if got != tt.want {
				t.Errorf("envKeyToPath(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestCoerceEnvValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		hint interface{}
		want interface{}
	}{
		// Generic table: boolean words first, then numbers.
		{"true word", "true", nil, true},
		{"yes word", "YES", nil, true},
		{"on word", "On", nil, true},
		{"one is bool", "1", nil, true},
		{"false word", "false", nil, false},
		{"no word", "no", nil, false},
		{"off word", "OFF", nil, false},
		{"zero is bool", "0", nil, false},
		{"integer", "42", nil, int64(42)},
		{"negative integer", "-7", nil, int64(-7)},
		{"float", "3.5", nil, 3.5},
		{"string", "hello", nil, "hello"},

		// Schema-typed targets override the generic table.
		{"one into int", "1", 8000, int64(1)},
		{"zero into int", "0", 8000, int64(0)},
		{"one into bool", "1", true, true},
		{"float into float", "80.5", float64(0), 80.5},
		{"yes stays string", "yes", "text", "yes"},
		{"duration string", "45s", time.Duration(0), 45 * time.Second},
		{"duration seconds", "10", time.Duration(0), 10 * time.Second},
		{"bad bool falls through", "maybe", true, "maybe"},
		{"bad int falls through", "abc", 8000, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceEnvValue(tt.raw, tt.hint)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("coerceEnvValue(%q, %T) = %v (%T), want %v (%T)",
					tt.raw, tt.hint, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestLoadTreeDefaultsOnly(t *testing.T) {
	_, cfg, err := loadTree("", testEnvPrefix)
	if err != nil {
		t.Fatalf("loadTree with no file: %v", err)
	}
	if cfg.App.Name != "nexus" {
		t.Errorf("App.Name = %q, want nexus", cfg.App.Name)
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want 8000", cfg.API.Port)
	}
}

func TestLoadTreeMissingFile(t *testing.T) {
	_, cfg, err := loadTree(filepath.Join(t.TempDir(), "absent.yaml"), testEnvPrefix)
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got: %v", err)
	}
	if cfg.App.Name != "nexus" {
		t.Errorf("App.Name = %q, want nexus", cfg.App.Name)
	}
}

func TestLoadTreeEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}

	_, cfg, err := loadTree(path, testEnvPrefix)
	if err != nil {
		t.Fatalf("empty file should fall back to defaults, got: %v", err)
	}
	if cfg.App.Name != "nexus" {
		t.Errorf("App.Name = %q, want nexus", cfg.App.Name)
	}
}

func TestLoadTreeUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.ini")
	if err := os.WriteFile(path, []byte("[app]\nname = broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err := loadTree(path, testEnvPrefix)
	if err == nil {
		t.Fatal("expected error for .ini config file")
	}
	if !errs.IsKind(err, errs.KindConfiguration) {
		t.Errorf("error kind = %v, want ConfigurationError", errs.KindOf(err))
	}
}

func TestLoadTreeYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	content := `
app:
  name: FromFile
  environment: production
api:
  enabled: true
  port: 9000
security:
  jwt:
    secret: 0123456789abcdef0123456789abcdef
event_bus:
  publish_timeout: 2s
plugins:
  enabled:
    - alpha
    - beta
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, cfg, err := loadTree(path, testEnvPrefix)
	if err != nil {
		t.Fatalf("loadTree: %v", err)
	}

	if cfg.App.Name != "FromFile" {
		t.Errorf("App.Name = %q, want FromFile", cfg.App.Name)
	}
	if cfg.App.Environment != "production" {
		t.Errorf("App.Environment = %q, want production", cfg.App.Environment)
	}
	if !cfg.API.Enabled || cfg.API.Port != 9000 {
		t.Errorf("API = enabled=%v port=%d, want enabled=true port=9000", cfg.API.Enabled, cfg.API.Port)
	}
	if cfg.EventBus.PublishTimeout != 2*time.Second {
		t.Errorf("PublishTimeout = %v, want 2s", cfg.EventBus.PublishTimeout)
	}
	if !reflect.DeepEqual(cfg.Plugins.Enabled, []string{"alpha", "beta"}) {
		t.Errorf("Plugins.Enabled = %v, want [alpha beta]", cfg.Plugins.Enabled)
	}

	// Untouched options keep their defaults after a partial file merge.
	if cfg.API.Workers != 4 {
		t.Errorf("API.Workers = %d, want default 4", cfg.API.Workers)
	}
	if cfg.Security.JWT.Algorithm != "HS256" {
		t.Errorf("JWT.Algorithm = %q, want default HS256", cfg.Security.JWT.Algorithm)
	}
}

func TestLoadTreeJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.json")
	content := `{"app": {"name": "FromJSON"}, "monitoring": {"metrics_interval_seconds": 30}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, cfg, err := loadTree(path, testEnvPrefix)
	if err != nil {
		t.Fatalf("loadTree: %v", err)
	}
	if cfg.App.Name != "FromJSON" {
		t.Errorf("App.Name = %q, want FromJSON", cfg.App.Name)
	}
	if cfg.Monitoring.MetricsIntervalSeconds != 30 {
		t.Errorf("MetricsIntervalSeconds = %d, want 30", cfg.Monitoring.MetricsIntervalSeconds)
	}
}

func TestLoadTreeValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	// API enabled without a JWT secret violates the cross-rule.
	if err := os.WriteFile(path, []byte("api:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err := loadTree(path, testEnvPrefix)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errs.IsKind(err, errs.KindConfiguration) {
		t.Errorf("error kind = %v, want ConfigurationError", errs.KindOf(err))
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: Initial\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NEXUS_APP_NAME", "Env")

	_, cfg, err := loadTree(path, DefaultEnvPrefix)
	if err != nil {
		t.Fatalf("loadTree: %v", err)
	}
	if cfg.App.Name != "Env" {
		t.Errorf("App.Name = %q, want Env (environment wins over file)", cfg.App.Name)
	}
}

func TestEnvLayerCoercion(t *testing.T) {
	t.Setenv("NEXUS_API_PORT", "9090")
	t.Setenv("NEXUS_APP_DEBUG", "yes")
	t.Setenv("NEXUS_MONITORING__ALERT_THRESHOLDS__CPU_PERCENT", "75.5")
	t.Setenv("NEXUS_API__CORS__ORIGINS", "https://a.example,https://b.example")
	t.Setenv("NEXUS_EVENT_BUS__PUBLISH_TIMEOUT", "2s")
	t.Setenv("NEXUS_PLUGINS__SAMPLE_RATE", "0.5")

	k, cfg, err := loadTree("", DefaultEnvPrefix)
	if err != nil {
		t.Fatalf("loadTree: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if !cfg.App.Debug {
		t.Error("App.Debug should coerce to true from \"yes\"")
	}
	if cfg.Monitoring.AlertThresholds.CPUPercent != 75.5 {
		t.Errorf("CPUPercent = %g, want 75.5", cfg.Monitoring.AlertThresholds.CPUPercent)
	}
	wantOrigins := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.API.CORS.Origins, wantOrigins) {
		t.Errorf("CORS.Origins = %v, want %v", cfg.API.CORS.Origins, wantOrigins)
	}
	if cfg.EventBus.PublishTimeout != 2*time.Second {
		t.Errorf("PublishTimeout = %v, want 2s", cfg.EventBus.PublishTimeout)
	}

	// Paths outside the schema land in the tree via the explicit
	// delimiter with generic coercion.
	if got := k.Float64("plugins.sample_rate"); got != 0.5 {
		t.Errorf("plugins.sample_rate = %g, want 0.5", got)
	}
}

func TestFindConfigFile(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "anywhere.yaml")
	if got := findConfigFile(explicit); got != explicit {
		t.Errorf("explicit path: got %q, want %q", got, explicit)
	}

	t.Setenv(EnvConfigPath, "/from/env/nexus.yaml")
	if got := findConfigFile(""); got != "/from/env/nexus.yaml" {
		t.Errorf("env path: got %q, want /from/env/nexus.yaml", got)
	}

	t.Setenv(EnvConfigPath, "")
	tmp := t.TempDir()
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Fatalf("restoring working directory: %v", err)
		}
	}()
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFile(""); got != "" {
		t.Errorf("no config anywhere: got %q, want empty", got)
	}

	if err := os.WriteFile(filepath.Join(tmp, "nexus.yml"), []byte("app:\n  name: probe\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := findConfigFile(""); got != "nexus.yml" {
		t.Errorf("default probe: got %q, want nexus.yml", got)
	}
}
