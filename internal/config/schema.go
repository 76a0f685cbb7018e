// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import "time"

// Config is the full configuration tree. Field names follow the dotted
// paths used by Service.Get and Service.Set, e.g. "thread_pool.io_threads".
type Config struct {
	App        AppConfig        `koanf:"app"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	ThreadPool ThreadPoolConfig `koanf:"thread_pool"`
	API        APIConfig        `koanf:"api"`
	Security   SecurityConfig   `koanf:"security"`
	Plugins    PluginsConfig    `koanf:"plugins"`
	Files      FilesConfig      `koanf:"files"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Cloud      CloudConfig      `koanf:"cloud"`
}

// AppConfig identifies the application instance.
type AppConfig struct {
	Name        string   `koanf:"name"`
	Version     string   `koanf:"version"`
	Environment string   `koanf:"environment"` // development, staging, production
	Debug       bool     `koanf:"debug"`
	UI          UIConfig `koanf:"ui"`
}

// UIConfig holds toggles for the bundled web UI.
type UIConfig struct {
	Enabled bool   `koanf:"enabled"`
	Theme   string `koanf:"theme"`
}

// DatabaseConfig selects and configures the persistence adapter.
// Type "memory" keeps all state in process; "badger" persists to Path.
// The SQL-ish options (host, port, user, pool sizing) are accepted for
// forward compatibility with network-backed adapters.
type DatabaseConfig struct {
	Type        string `koanf:"type"`
	Path        string `koanf:"path"`
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Name        string `koanf:"name"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	PoolSize    int    `koanf:"pool_size"`
	MaxOverflow int    `koanf:"max_overflow"`
	Echo        bool   `koanf:"echo"`
}

// LoggingConfig configures log level, format, and sinks.
type LoggingConfig struct {
	Level    string       `koanf:"level"`
	Format   string       `koanf:"format"` // text or json
	Console  ConsoleSink  `koanf:"console"`
	File     FileSink     `koanf:"file"`
	Database DatabaseSink `koanf:"database"`
	ELK      ELKSink      `koanf:"elk"`
}

// ConsoleSink writes human-readable output to stderr.
type ConsoleSink struct {
	Enabled bool   `koanf:"enabled"`
	Level   string `koanf:"level"` // empty inherits logging.level
}

// FileSink writes rotated JSON log files.
type FileSink struct {
	Enabled       bool   `koanf:"enabled"`
	Path          string `koanf:"path"`
	RotationMB    int    `koanf:"rotation"`  // max size per file in MB
	RetentionDays int    `koanf:"retention"` // days to keep rotated files
}

// DatabaseSink mirrors warning-and-above records into the persistence
// adapter so they survive restarts. Recognized but disabled by default.
type DatabaseSink struct {
	Enabled bool   `koanf:"enabled"`
	Level   string `koanf:"level"`
}

// ELKSink ships logs to an external Elasticsearch endpoint.
// Recognized but disabled by default.
type ELKSink struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Index   string `koanf:"index"`
}

// EventBusConfig sizes the in-process event bus and the optional
// external bridge.
type EventBusConfig struct {
	ThreadPoolSize int               `koanf:"thread_pool_size"`
	MaxQueueSize   int               `koanf:"max_queue_size"`
	PublishTimeout time.Duration     `koanf:"publish_timeout"`
	External       ExternalBusConfig `koanf:"external"`
}

// ExternalBusConfig bridges bus events to a NATS deployment. When
// Embedded is true the broker runs inside this process and URL is
// ignored.
type ExternalBusConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Embedded      bool   `koanf:"embedded"`
	StoreDir      string `koanf:"store_dir"`
}

// ThreadPoolConfig sizes the concurrency facility. Zero values are
// resolved against the host CPU count at pool construction.
type ThreadPoolConfig struct {
	WorkerThreads     int    `koanf:"worker_threads"`
	IOThreads         int    `koanf:"io_threads"`
	ProcessWorkers    int    `koanf:"process_workers"`
	EnableProcessPool bool   `koanf:"enable_process_pool"`
	ThreadNamePrefix  string `koanf:"thread_name_prefix"`
	QueueSize         int    `koanf:"queue_size"`
}

// APIConfig configures the HTTP surface. The API is opt-in: enabling it
// requires a JWT secret (see Validate).
type APIConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Host      string          `koanf:"host"`
	Port      int             `koanf:"port"`
	Workers   int             `koanf:"workers"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Swagger   SwaggerConfig   `koanf:"swagger"`
}

// CORSConfig lists allowed cross-origin values.
type CORSConfig struct {
	Origins []string `koanf:"origins"`
	Methods []string `koanf:"methods"`
	Headers []string `koanf:"headers"`
}

// RateLimitConfig throttles API requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `koanf:"enabled"`
	RequestsPerMinute int  `koanf:"requests_per_minute"`
}

// WebSocketConfig toggles the live event stream endpoint.
type WebSocketConfig struct {
	Enabled bool `koanf:"enabled"`
}

// SwaggerConfig toggles the bundled API documentation UI.
type SwaggerConfig struct {
	Enabled bool `koanf:"enabled"`
}

// SecurityConfig configures authentication and password rules.
type SecurityConfig struct {
	JWT            JWTConfig            `koanf:"jwt"`
	PasswordPolicy PasswordPolicyConfig `koanf:"password_policy"`
	Authz          AuthzConfig          `koanf:"authz"`
}

// AuthzConfig configures the permission enforcer. An empty PolicyPath
// uses the built-in policy.
type AuthzConfig struct {
	PolicyPath string        `koanf:"policy_path"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
}

// JWTConfig configures token signing. Changing Secret or Algorithm at
// runtime invalidates every outstanding token.
type JWTConfig struct {
	Secret                   string `koanf:"secret"`
	Algorithm                string `koanf:"algorithm"`
	AccessTokenExpireMinutes int    `koanf:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `koanf:"refresh_token_expire_days"`
	RotateRefreshTokens      bool   `koanf:"rotate_refresh_tokens"`
}

// PasswordPolicyConfig sets the minimum acceptable password shape.
// BcryptCost below 12 is raised to 12 at hash time.
type PasswordPolicyConfig struct {
	MinLength        int    `koanf:"min_length"`
	RequireUppercase bool   `koanf:"require_uppercase"`
	RequireLowercase bool   `koanf:"require_lowercase"`
	RequireDigit     bool   `koanf:"require_digit"`
	RequireSpecial   bool   `koanf:"require_special"`
	SpecialChars     string `koanf:"special_chars"`
	MaxRepeats       int    `koanf:"max_repeats"`
	BcryptCost       int    `koanf:"bcrypt_cost"`
}

// PluginsConfig configures plugin discovery and isolation.
type PluginsConfig struct {
	Directory string          `koanf:"directory"`
	Autoload  bool            `koanf:"autoload"`
	Enabled   []string        `koanf:"enabled"`
	Disabled  []string        `koanf:"disabled"`
	Isolation IsolationConfig `koanf:"isolation"`
}

// IsolationConfig sets the default isolation level and invocation bounds
// for plugins that do not declare their own.
type IsolationConfig struct {
	DefaultLevel  string        `koanf:"default_level"` // none, thread, process
	InvokeTimeout time.Duration `koanf:"invoke_timeout"`
	LoadTimeout   time.Duration `koanf:"load_timeout"`
}

// FilesConfig names the filesystem roots the runtime may write under.
type FilesConfig struct {
	BaseDirectory       string `koanf:"base_directory"`
	TempDirectory       string `koanf:"temp_directory"`
	PluginDataDirectory string `koanf:"plugin_data_directory"`
	BackupDirectory     string `koanf:"backup_directory"`
}

// MonitoringConfig configures resource sampling and alerting.
type MonitoringConfig struct {
	Enabled                bool             `koanf:"enabled"`
	MetricsIntervalSeconds int              `koanf:"metrics_interval_seconds"`
	AlertThresholds        AlertThresholds  `koanf:"alert_thresholds"`
	Prometheus             PrometheusConfig `koanf:"prometheus"`
}

// AlertThresholds are warning trigger points in percent. Critical fires
// at 1.25x each value.
type AlertThresholds struct {
	CPUPercent    float64 `koanf:"cpu_percent"`
	MemoryPercent float64 `koanf:"memory_percent"`
	DiskPercent   float64 `koanf:"disk_percent"`
}

// PrometheusConfig exposes the metrics endpoint. Port 0 serves /metrics
// on the API listener instead of a dedicated one.
type PrometheusConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

// CloudConfig configures the optional blob storage backend.
type CloudConfig struct {
	Provider string             `koanf:"provider"`
	Storage  CloudStorageConfig `koanf:"storage"`
}

// CloudStorageConfig names the bucket used for off-host backups.
type CloudStorageConfig struct {
	Enabled bool   `koanf:"enabled"`
	Type    string `koanf:"type"`
	Bucket  string `koanf:"bucket"`
	Prefix  string `koanf:"prefix"`
}

// defaultConfig returns the schema defaults. The zero tree must pass
// Validate so a missing or empty config file is a working configuration.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "nexus",
			Version:     "1.0.0",
			Environment: "development",
			Debug:       false,
			UI: UIConfig{
				Enabled: true,
				Theme:   "dark",
			},
		},
		Database: DatabaseConfig{
			Type:     "memory",
			Path:     "/data/nexus/badger",
			PoolSize: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Console: ConsoleSink{
				Enabled: true,
			},
			File: FileSink{
				Enabled:       false,
				Path:          "/data/nexus/logs/nexus.log",
				RotationMB:    100,
				RetentionDays: 14,
			},
		},
		EventBus: EventBusConfig{
			ThreadPoolSize: 4,
			MaxQueueSize:   1000,
			PublishTimeout: 5 * time.Second,
			External: ExternalBusConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "nexus",
				StoreDir:      "/data/nexus/nats",
			},
		},
		ThreadPool: ThreadPoolConfig{
			WorkerThreads:     0, // 0 resolves to NumCPU
			IOThreads:         0, // 0 resolves to NumCPU * 2
			ProcessWorkers:    0, // 0 resolves to NumCPU
			EnableProcessPool: false,
			ThreadNamePrefix:  "nexus-worker",
			QueueSize:         256,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8000,
			Workers: 4,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				Headers: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			WebSocket: WebSocketConfig{Enabled: true},
			Swagger:   SwaggerConfig{Enabled: true},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Secret:                   "",
				Algorithm:                "HS256",
				AccessTokenExpireMinutes: 30,
				RefreshTokenExpireDays:   7,
				RotateRefreshTokens:      false,
			},
			PasswordPolicy: PasswordPolicyConfig{
				MinLength:        8,
				RequireUppercase: true,
				RequireLowercase: true,
				RequireDigit:     true,
				RequireSpecial:   true,
				SpecialChars:     "!@#$%^&*()-_=+[]{};:,.<>?",
				MaxRepeats:       3,
				BcryptCost:       12,
			},
			Authz: AuthzConfig{
				PolicyPath: "",
				CacheTTL:   30 * time.Second,
			},
		},
		Plugins: PluginsConfig{
			Directory: "plugins",
			Autoload:  false,
			Enabled:   []string{},
			Disabled:  []string{},
			Isolation: IsolationConfig{
				DefaultLevel:  "thread",
				InvokeTimeout: 30 * time.Second,
				LoadTimeout:   10 * time.Second,
			},
		},
		Files: FilesConfig{
			BaseDirectory:       "/data/nexus",
			TempDirectory:       "/data/nexus/tmp",
			PluginDataDirectory: "/data/nexus/plugin-data",
			BackupDirectory:     "/data/nexus/backups",
		},
		Monitoring: MonitoringConfig{
			Enabled:                true,
			MetricsIntervalSeconds: 10,
			AlertThresholds: AlertThresholds{
				CPUPercent:    80,
				MemoryPercent: 85,
				DiskPercent:   90,
			},
			Prometheus: PrometheusConfig{
				Enabled: true,
				Port:    0,
			},
		},
		Cloud: CloudConfig{
			Provider: "",
			Storage: CloudStorageConfig{
				Enabled: false,
				Type:    "s3",
			},
		},
	}
}
