// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package app is the application core. It constructs every manager,
// hands them to the registry for dependency-ordered initialization,
// hosts the long-lived loops under a supervision tree, and owns the
// process lifecycle from first config load to last shutdown log line.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/nexusruntime/nexus/internal/api"
	"github.com/nexusruntime/nexus/internal/audit"
	"github.com/nexusruntime/nexus/internal/authz"
	"github.com/nexusruntime/nexus/internal/bridge"
	"github.com/nexusruntime/nexus/internal/concurrency"
	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/eventbus"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/monitor"
	"github.com/nexusruntime/nexus/internal/plugin"
	"github.com/nexusruntime/nexus/internal/registry"
	"github.com/nexusruntime/nexus/internal/security"
	"github.com/nexusruntime/nexus/internal/store"
	"github.com/nexusruntime/nexus/internal/supervisor"
	"github.com/nexusruntime/nexus/internal/supervisor/services"
)

const (
	// shuttingDownGrace bounds the system/shutting_down publish so a
	// saturated bus cannot stall shutdown.
	shuttingDownGrace = 2 * time.Second

	// pluginShutdownTimeout caps the plugin isolation manager's
	// shutdown tighter than the registry's overall walk budget.
	pluginShutdownTimeout = 10 * time.Second

	// storeGCInterval drives the badger value-log GC ticker.
	storeGCInterval = 10 * time.Minute

	// shutdownGraceHTTP bounds the HTTP server's graceful stop.
	shutdownGraceHTTP = 10 * time.Second

	auditBuffer = 256
)

// Options configures App construction.
type Options struct {
	// ConfigPath is the config file location. Empty probes the default
	// locations.
	ConfigPath string

	// Version is the build version reported by the API and logs.
	Version string
}

// App wires the managers together and operates the registry. Fields are
// populated by manager Initialize closures running in dependency order;
// cross-component references resolve at initialization time, never at
// construction time.
type App struct {
	opts Options

	reg    *registry.Registry
	logger zerolog.Logger

	cfg      *config.Service
	facility *concurrency.Facility
	bus      *eventbus.Bus
	bridge   *bridge.Bridge
	monitor  *monitor.Monitor
	store    *store.Store
	audit    *audit.Recorder
	security *security.Service
	authz    *authz.Service
	plugins  *plugin.Manager
	server   *api.Server

	// Services accumulated by manager initializers and mounted on the
	// supervision tree by Run.
	dataServices      []suture.Service
	messagingServices []suture.Service
	apiServices       []suture.Service

	started time.Time
}

// New registers all managers with their dependency edges. Nothing is
// initialized yet; Run drives the registry.
func New(opts Options) (*App, error) {
	a := &App{
		opts:   opts,
		reg:    registry.New(),
		logger: logging.Named("app"),
	}

	type entry struct {
		m    registry.Manager
		deps []string
	}
	// Registration requires dependencies to exist first, so the API
	// manager goes last: its handlers capture the plugin manager, which
	// makes plugin_isolation one of its dependencies.
	managers := []entry{
		{a.configManager(), nil},
		{a.loggerManager(), []string{"config"}},
		{a.concurrencyManager(), []string{"config", "logger"}},
		{a.eventBusManager(), []string{"config", "logger", "concurrency"}},
		{a.fileManager(), []string{"config", "logger"}},
		{a.monitorManager(), []string{"config", "logger", "event_bus"}},
		{a.databaseManager(), []string{"config", "logger", "file"}},
		{a.securityManager(), []string{"config", "logger", "event_bus", "database"}},
		{a.cloudManager(), []string{"config", "logger", "file"}},
		{a.taskManager(), []string{"config", "logger", "concurrency", "database", "security"}},
		{a.pluginIsolationManager(), []string{"config", "logger", "concurrency", "event_bus", "file"}},
		{a.pluginsManager(), []string{"plugin_isolation", "event_bus", "logger"}},
		{a.apiManager(), []string{"config", "logger", "security", "event_bus", "monitor", "plugin_isolation"}},
	}
	for _, e := range managers {
		if err := a.reg.Register(e.m, e.deps); err != nil {
			return nil, err
		}
	}
	a.reg.SetShutdownTimeout("plugin_isolation", pluginShutdownTimeout)
	return a, nil
}

// Registry exposes the manager registry for status reporting.
func (a *App) Registry() *registry.Registry { return a.reg }

// Config returns the config service once the config manager has run.
func (a *App) Config() *config.Service { return a.cfg }

// Run initializes every manager, starts the supervision tree, and then
// services the main dispatcher on the calling goroutine until ctx is
// canceled. It returns after the full shutdown sequence has completed.
func (a *App) Run(ctx context.Context) error {
	a.started = time.Now()

	if err := a.reg.InitializeAll(ctx); err != nil {
		// Partially initialized managers still unwind in order.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), registry.DefaultShutdownTimeout)
		defer cancel()
		if serr := a.reg.ShutdownAll(shutdownCtx); serr != nil {
			a.logger.Error().Err(serr).Msg("Cleanup after failed startup was incomplete")
		}
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	for _, svc := range a.dataServices {
		tree.AddDataService(svc)
	}
	for _, svc := range a.messagingServices {
		tree.AddMessagingService(svc)
	}
	for _, svc := range a.apiServices {
		tree.AddAPIService(svc)
	}

	treeCtx, stopTree := context.WithCancel(context.Background())
	treeErr := tree.ServeBackground(treeCtx)

	if _, err := a.bus.Publish("system/started", "app", map[string]any{
		"version": a.opts.Version,
		"pid":     os.Getpid(),
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to publish system/started")
	}
	a.logger.Info().
		Str("version", a.opts.Version).
		Strs("managers", a.reg.InitOrder()).
		Msg("Application started")

	// The calling goroutine becomes the main thread of control: it
	// services run-on-main submissions until shutdown is requested.
	a.facility.Dispatcher().Run(ctx)

	return a.shutdown(stopTree, treeErr)
}

// shutdown runs the full stop sequence: announce, stop the tree, then
// unwind the managers in reverse initialization order.
func (a *App) shutdown(stopTree context.CancelFunc, treeErr <-chan error) error {
	a.logger.Info().Msg("Shutting down")

	announceCtx, cancelAnnounce := context.WithTimeout(context.Background(), shuttingDownGrace)
	if _, err := a.bus.PublishWait(announceCtx, "system/shutting_down", "app", map[string]any{
		"uptime_seconds": time.Since(a.started).Seconds(),
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to publish system/shutting_down")
	}
	cancelAnnounce()

	stopTree()
	select {
	case err := <-treeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Msg("Supervision tree stopped with error")
		}
	case <-time.After(registry.DefaultShutdownTimeout):
		a.logger.Warn().Msg("Supervision tree did not stop in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), registry.DefaultShutdownTimeout)
	defer cancel()
	err := a.reg.ShutdownAll(shutdownCtx)
	a.logger.Info().Msg("Shutdown complete")
	return err
}

// configManager loads and validates the layered configuration, then
// keeps it fresh with the file watcher.
func (a *App) configManager() registry.Manager {
	return newManager("config",
		func(ctx context.Context) error {
			svc, err := config.NewService(config.Options{Path: a.opts.ConfigPath})
			if err != nil {
				return err
			}
			a.cfg = svc
			if err := svc.Watch(); err != nil {
				// A broken watcher degrades hot reload, not startup.
				a.logger.Warn().Err(err).Msg("Config file watching unavailable")
			}
			return nil
		},
		func(ctx context.Context) error {
			return a.cfg.Close()
		},
		func() map[string]any {
			if a.cfg == nil {
				return nil
			}
			return map[string]any{"file": a.cfg.FilePath()}
		})
}

// loggerManager reconfigures the process-global logger from the loaded
// configuration. Before this runs, logging uses its defaults.
func (a *App) loggerManager() registry.Manager {
	return newManager("logger",
		func(ctx context.Context) error {
			lc := a.cfg.Current().Logging
			logging.Init(logging.Config{
				Level:     lc.Level,
				Format:    lc.Format,
				Timestamp: true,
				Console: logging.ConsoleConfig{
					Enabled: lc.Console.Enabled,
					Level:   lc.Console.Level,
				},
				File: logging.FileConfig{
					Enabled:       lc.File.Enabled,
					Path:          lc.File.Path,
					RotationMB:    lc.File.RotationMB,
					RetentionDays: lc.File.RetentionDays,
				},
			})
			a.logger = logging.Named("app")
			a.cfg.RegisterListener("app-log-level", "logging.level",
				func(path string, oldValue, newValue any) {
					if level, ok := newValue.(string); ok {
						logging.SetLevelString(level)
					}
				})
			return nil
		},
		nil,
		func() map[string]any {
			return map[string]any{"level": logging.GetLevel().String()}
		})
}

func (a *App) concurrencyManager() registry.Manager {
	return newManager("concurrency",
		func(ctx context.Context) error {
			a.facility = concurrency.New(a.cfg.Current().ThreadPool)
			return nil
		},
		func(ctx context.Context) error {
			return a.facility.Shutdown(ctx)
		},
		func() map[string]any {
			if a.facility == nil {
				return nil
			}
			out := make(map[string]any)
			for name, st := range a.facility.Stats() {
				out[name] = st
			}
			return out
		})
}

// eventBusManager starts the in-process bus and, when configured, the
// external NATS bridge.
func (a *App) eventBusManager() registry.Manager {
	return newManager("event_bus",
		func(ctx context.Context) error {
			busCfg := a.cfg.Current().EventBus
			a.bus = eventbus.New(busCfg, a.facility)
			if !busCfg.External.Enabled {
				return nil
			}
			br, err := bridge.New(busCfg.External, a.bus)
			if err != nil {
				return err
			}
			a.bridge = br
			a.messagingServices = append(a.messagingServices,
				services.NewRunnerService("event-bridge", br.Run))
			return nil
		},
		func(ctx context.Context) error {
			if a.bridge != nil {
				if err := a.bridge.Close(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("Bridge close failed")
				}
			}
			return a.bus.Close(ctx)
		},
		func() map[string]any {
			if a.bus == nil {
				return nil
			}
			return map[string]any{
				"subscriptions": a.bus.SubscriptionCount(),
				"queue_depth":   a.bus.QueueDepth(),
				"external":      a.bridge != nil,
			}
		})
}

// fileManager creates the filesystem roots the runtime writes under.
func (a *App) fileManager() registry.Manager {
	var created []string
	return newManager("file",
		func(ctx context.Context) error {
			fc := a.cfg.Current().Files
			for _, dir := range []string{
				fc.BaseDirectory,
				fc.TempDirectory,
				fc.PluginDataDirectory,
				fc.BackupDirectory,
			} {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return errs.Wrap(errs.KindConfiguration, "failed to create directory "+dir, err)
				}
				created = append(created, dir)
			}
			return nil
		},
		nil,
		func() map[string]any {
			return map[string]any{"directories": created}
		})
}

func (a *App) monitorManager() registry.Manager {
	return newManager("monitor",
		func(ctx context.Context) error {
			mc := a.cfg.Current().Monitoring
			a.monitor = monitor.New(mc, a.bus)
			if mc.Enabled {
				a.messagingServices = append(a.messagingServices,
					services.NewRunnerService("resource-monitor", a.monitor.Run))
			}
			return nil
		},
		nil,
		func() map[string]any {
			if a.monitor == nil {
				return nil
			}
			return map[string]any{
				"active_alerts":  len(a.monitor.ActiveAlerts()),
				"uptime_seconds": a.monitor.Uptime().Seconds(),
			}
		})
}

// databaseManager opens the persistence adapter and the audit trail
// writer on top of it.
func (a *App) databaseManager() registry.Manager {
	return newManager("database",
		func(ctx context.Context) error {
			st, err := store.Open(a.cfg.Current().Database)
			if err != nil {
				return err
			}
			a.store = st
			a.audit = audit.NewRecorder(st.Audit, auditBuffer)
			return nil
		},
		func(ctx context.Context) error {
			if err := a.audit.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Audit recorder close failed")
			}
			return a.store.Close()
		},
		func() map[string]any {
			if a.store == nil {
				return nil
			}
			return map[string]any{"backend": a.store.Backend()}
		})
}

// securityManager builds the security core and the permission
// predicate, and seeds the admin account on an empty user store.
func (a *App) securityManager() registry.Manager {
	return newManager("security",
		func(ctx context.Context) error {
			secCfg := a.cfg.Current().Security
			if secCfg.JWT.Secret == "" {
				// Validation only demands a secret when the API is
				// enabled. Headless runs still need a signer, so one is
				// generated per process; tokens do not survive restarts.
				ephemeral := make([]byte, 32)
				if _, err := rand.Read(ephemeral); err != nil {
					return errs.Wrap(errs.KindSecurity, "failed to generate ephemeral jwt secret", err)
				}
				secCfg.JWT.Secret = hex.EncodeToString(ephemeral)
				a.logger.Warn().Msg("security.jwt.secret is empty; using an ephemeral per-process secret")
			}
			svc, err := security.NewService(secCfg, a.store.Users, a.store.Tokens, a.audit, a.bus)
			if err != nil {
				return err
			}
			a.security = svc
			svc.BindConfig(a.cfg)

			admin, password, err := svc.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if admin != nil {
				// Printed once, on first start against an empty store.
				a.logger.Warn().
					Str("username", admin.Username).
					Str("password", password).
					Msg("Bootstrap admin account created; change this password immediately")
			}

			az, err := authz.NewService(secCfg.Authz, svc)
			if err != nil {
				return err
			}
			a.authz = az
			return nil
		},
		func(ctx context.Context) error {
			a.authz.Close()
			return nil
		},
		nil)
}

func (a *App) apiManager() registry.Manager {
	return newManager("api",
		func(ctx context.Context) error {
			apiCfg := a.cfg.Current().API
			if !apiCfg.Enabled {
				return nil
			}
			gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
			mc := a.cfg.Current().Monitoring
			if mc.Prometheus.Enabled && mc.Prometheus.Port == 0 {
				gatherers = append(gatherers, a.monitor.Registry().Gatherer())
			}
			a.server = api.NewServer(apiCfg, api.Dependencies{
				Config:    a.cfg,
				Security:  a.security,
				Authz:     a.authz,
				Plugins:   a.plugins,
				Monitor:   a.monitor,
				Bus:       a.bus,
				Audit:     a.audit,
				Store:     a.store,
				Registry:  a.reg,
				Gatherers: gatherers,
				Version:   a.opts.Version,
			})
			a.apiServices = append(a.apiServices,
				services.NewHTTPService(a.server.HTTPServer(), shutdownGraceHTTP))
			return nil
		},
		nil,
		func() map[string]any {
			if a.server == nil {
				return map[string]any{"enabled": false}
			}
			return map[string]any{"enabled": true, "addr": a.server.Addr()}
		})
}

// cloudManager validates the optional blob backend configuration. No
// provider is bundled; the manager reports what is configured so the
// status surface shows the intent.
func (a *App) cloudManager() registry.Manager {
	return newManager("cloud",
		func(ctx context.Context) error {
			cc := a.cfg.Current().Cloud
			if cc.Storage.Enabled && cc.Provider == "" {
				return errs.New(errs.KindConfiguration, "cloud.storage.enabled requires cloud.provider")
			}
			return nil
		},
		nil,
		func() map[string]any {
			cc := a.cfg.Current().Cloud
			return map[string]any{
				"provider": cc.Provider,
				"enabled":  cc.Storage.Enabled,
			}
		})
}

// taskManager registers the recurring housekeeping jobs: revocation
// state cleanup and store garbage collection.
func (a *App) taskManager() registry.Manager {
	return newManager("task",
		func(ctx context.Context) error {
			a.dataServices = append(a.dataServices,
				services.NewRunnerService("token-cleanup", a.security.RunCleanup))
			if a.store.Backend() == store.BackendBadger {
				a.dataServices = append(a.dataServices,
					services.NewTickerService("store-gc", storeGCInterval, func(ctx context.Context) error {
						return a.store.RunGC()
					}))
			}
			return nil
		},
		nil,
		nil)
}

func (a *App) pluginIsolationManager() registry.Manager {
	return newManager("plugin_isolation",
		func(ctx context.Context) error {
			c := a.cfg.Current()
			a.plugins = plugin.NewManager(c.Plugins, c.Files, a.facility, a.bus)
			return nil
		},
		func(ctx context.Context) error {
			return a.plugins.Shutdown(ctx)
		},
		func() map[string]any {
			if a.plugins == nil {
				return nil
			}
			return map[string]any{"loaded": len(a.plugins.List())}
		})
}

// pluginsManager applies the discovery policy on top of the isolation
// manager: scan the plugin directory and load what is enabled.
func (a *App) pluginsManager() registry.Manager {
	return newManager("plugins",
		func(ctx context.Context) error {
			if !a.cfg.Current().Plugins.Autoload {
				return nil
			}
			loaded, err := a.plugins.Autoload(ctx)
			if err != nil {
				// Individual load failures are already logged; a failed
				// scan should not abort startup.
				a.logger.Warn().Err(err).Msg("Plugin autoload incomplete")
			}
			a.logger.Info().Int("loaded", loaded).Msg("Plugin autoload finished")
			return nil
		},
		nil,
		nil)
}
