// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package config

import (
	"strings"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
)

// Limits applied during validation.
const (
	minJWTSecretLen   = 32
	maxQueueSizeLimit = 1 << 20
	maxPoolSizeLimit  = 4096
)

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
	"test":        true,
}

var validJWTAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the whole tree. It is called after every load layer
// and after every runtime mutation; a failure must leave no side effects.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateApp,
		c.validateDatabase,
		c.validateLogging,
		c.validateEventBus,
		c.validateThreadPool,
		c.validateAPI,
		c.validateSecurity,
		c.validatePlugins,
		c.validateMonitoring,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.Name == "" {
		return errs.New(errs.KindConfiguration, "app.name cannot be empty")
	}
	if !validEnvironments[c.App.Environment] {
		return errs.Newf(errs.KindConfiguration,
			"app.environment must be one of development, staging, production, test (got %q)", c.App.Environment)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Type {
	case "memory":
		return nil
	case "badger":
		if c.Database.Path == "" {
			return errs.New(errs.KindConfiguration, "database.path is required when database.type is badger")
		}
		return nil
	default:
		return errs.Newf(errs.KindConfiguration,
			"database.type must be memory or badger (got %q)", c.Database.Type)
	}
}

func (c *Config) validateLogging() error {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return errs.Newf(errs.KindConfiguration, "logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errs.Newf(errs.KindConfiguration,
			"logging.format must be text or json (got %q)", c.Logging.Format)
	}
	if c.Logging.Console.Level != "" && !validLogLevels[strings.ToLower(c.Logging.Console.Level)] {
		return errs.Newf(errs.KindConfiguration, "logging.console.level %q is not a known level", c.Logging.Console.Level)
	}
	if c.Logging.File.Enabled {
		if c.Logging.File.Path == "" {
			return errs.New(errs.KindConfiguration, "logging.file.path is required when the file sink is enabled")
		}
		if c.Logging.File.RotationMB <= 0 {
			return errs.New(errs.KindConfiguration, "logging.file.rotation must be a positive size in MB")
		}
	}
	if c.Logging.ELK.Enabled && c.Logging.ELK.URL == "" {
		return errs.New(errs.KindConfiguration, "logging.elk.url is required when the elk sink is enabled")
	}
	return nil
}

func (c *Config) validateEventBus() error {
	if c.EventBus.ThreadPoolSize < 1 {
		return errs.New(errs.KindConfiguration, "event_bus.thread_pool_size must be at least 1")
	}
	if c.EventBus.MaxQueueSize < 1 || c.EventBus.MaxQueueSize > maxQueueSizeLimit {
		return errs.Newf(errs.KindConfiguration,
			"event_bus.max_queue_size must be between 1 and %d (got %d)", maxQueueSizeLimit, c.EventBus.MaxQueueSize)
	}
	if c.EventBus.PublishTimeout < 0 {
		return errs.New(errs.KindConfiguration, "event_bus.publish_timeout cannot be negative")
	}
	if c.EventBus.External.Enabled && !c.EventBus.External.Embedded && c.EventBus.External.URL == "" {
		return errs.New(errs.KindConfiguration,
			"event_bus.external.url is required when the bridge is enabled without an embedded broker")
	}
	return nil
}

func (c *Config) validateThreadPool() error {
	sizes := []struct {
		path string
		v    int
	}{
		{"thread_pool.worker_threads", c.ThreadPool.WorkerThreads},
		{"thread_pool.io_threads", c.ThreadPool.IOThreads},
		{"thread_pool.process_workers", c.ThreadPool.ProcessWorkers},
	}
	for _, s := range sizes {
		if s.v < 0 || s.v > maxPoolSizeLimit {
			return errs.Newf(errs.KindConfiguration,
				"%s must be between 0 and %d (got %d)", s.path, maxPoolSizeLimit, s.v)
		}
	}
	if c.ThreadPool.QueueSize < 1 {
		return errs.New(errs.KindConfiguration, "thread_pool.queue_size must be at least 1")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return errs.Newf(errs.KindConfiguration, "api.port must be between 1 and 65535 (got %d)", c.API.Port)
	}
	if !c.API.Enabled {
		return nil
	}
	if c.API.Workers < 1 {
		return errs.New(errs.KindConfiguration, "api.workers must be at least 1")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute < 1 {
		return errs.New(errs.KindConfiguration, "api.rate_limit.requests_per_minute must be at least 1")
	}
	return nil
}

// validateSecurity enforces the cross-rule between the API and the JWT
// secret: an enabled API without a signing secret is unusable, while a
// headless deployment may leave the secret empty.
func (c *Config) validateSecurity() error {
	if c.API.Enabled {
		if c.Security.JWT.Secret == "" {
			return errs.New(errs.KindConfiguration,
				"security.jwt.secret is required when api.enabled is true")
		}
		if len(c.Security.JWT.Secret) < minJWTSecretLen {
			return errs.Newf(errs.KindConfiguration,
				"security.jwt.secret must be at least %d characters (got %d)", minJWTSecretLen, len(c.Security.JWT.Secret))
		}
	}
	if !validJWTAlgorithms[c.Security.JWT.Algorithm] {
		return errs.Newf(errs.KindConfiguration,
			"security.jwt.algorithm must be one of HS256, HS384, HS512 (got %q)", c.Security.JWT.Algorithm)
	}
	if c.Security.JWT.AccessTokenExpireMinutes < 1 {
		return errs.New(errs.KindConfiguration, "security.jwt.access_token_expire_minutes must be at least 1")
	}
	if c.Security.JWT.RefreshTokenExpireDays < 1 {
		return errs.New(errs.KindConfiguration, "security.jwt.refresh_token_expire_days must be at least 1")
	}
	if c.Security.PasswordPolicy.MinLength < 1 {
		return errs.New(errs.KindConfiguration, "security.password_policy.min_length must be at least 1")
	}
	if cost := c.Security.PasswordPolicy.BcryptCost; cost < 0 || cost > 31 {
		return errs.Newf(errs.KindConfiguration,
			"security.password_policy.bcrypt_cost must be between 0 and 31 (got %d)", cost)
	}
	if c.Security.PasswordPolicy.MaxRepeats < 0 {
		return errs.New(errs.KindConfiguration, "security.password_policy.max_repeats must not be negative")
	}
	if c.Security.Authz.CacheTTL < 0 {
		return errs.New(errs.KindConfiguration, "security.authz.cache_ttl must not be negative")
	}
	return nil
}

func (c *Config) validatePlugins() error {
	if !models.IsValidIsolationLevel(models.IsolationLevel(c.Plugins.Isolation.DefaultLevel)) {
		return errs.Newf(errs.KindConfiguration,
			"plugins.isolation.default_level must be one of none, thread, process (got %q)", c.Plugins.Isolation.DefaultLevel)
	}
	if c.Plugins.Isolation.InvokeTimeout <= 0 {
		return errs.New(errs.KindConfiguration, "plugins.isolation.invoke_timeout must be positive")
	}
	if c.Plugins.Isolation.LoadTimeout <= 0 {
		return errs.New(errs.KindConfiguration, "plugins.isolation.load_timeout must be positive")
	}
	for _, name := range c.Plugins.Enabled {
		for _, other := range c.Plugins.Disabled {
			if name == other {
				return errs.Newf(errs.KindConfiguration,
					"plugin %q appears in both plugins.enabled and plugins.disabled", name)
			}
		}
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	if !c.Monitoring.Enabled {
		return nil
	}
	if c.Monitoring.MetricsIntervalSeconds < 1 {
		return errs.New(errs.KindConfiguration, "monitoring.metrics_interval_seconds must be at least 1")
	}
	thresholds := []struct {
		path string
		v    float64
	}{
		{"monitoring.alert_thresholds.cpu_percent", c.Monitoring.AlertThresholds.CPUPercent},
		{"monitoring.alert_thresholds.memory_percent", c.Monitoring.AlertThresholds.MemoryPercent},
		{"monitoring.alert_thresholds.disk_percent", c.Monitoring.AlertThresholds.DiskPercent},
	}
	for _, th := range thresholds {
		if th.v <= 0 || th.v > 100 {
			return errs.Newf(errs.KindConfiguration,
				"%s must be in (0, 100] (got %g)", th.path, th.v)
		}
	}
	if c.Monitoring.Prometheus.Port < 0 || c.Monitoring.Prometheus.Port > 65535 {
		return errs.Newf(errs.KindConfiguration,
			"monitoring.prometheus.port must be between 0 and 65535 (got %d)", c.Monitoring.Prometheus.Port)
	}
	return nil
}
