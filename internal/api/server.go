// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/audit"
	"github.com/nexusruntime/nexus/internal/authz"
	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/eventbus"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/middleware"
	"github.com/nexusruntime/nexus/internal/monitor"
	"github.com/nexusruntime/nexus/internal/plugin"
	"github.com/nexusruntime/nexus/internal/registry"
	"github.com/nexusruntime/nexus/internal/security"
	"github.com/nexusruntime/nexus/internal/store"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second

	// maxBodyBytes caps request bodies. Nothing this API accepts is
	// legitimately larger.
	maxBodyBytes = 1 << 20
)

// Dependencies carries the services the handlers call into. Config and
// Security are required; the rest may be nil, and the affected
// endpoints answer 503 until they are wired.
type Dependencies struct {
	Config   *config.Service
	Security *security.Service
	Authz    *authz.Service
	Plugins  *plugin.Manager
	Monitor  *monitor.Monitor
	Bus      *eventbus.Bus
	Audit    *audit.Recorder
	Store    *store.Store
	Registry *registry.Registry

	// Gatherers served at /metrics. Nil serves the default registry;
	// the application core appends the monitor registry here when no
	// dedicated prometheus port is configured.
	Gatherers prometheus.Gatherers

	// Version is reported by / and /system/status.
	Version string
}

// Server owns the router and the http.Server around it.
type Server struct {
	cfg     config.APIConfig
	deps    Dependencies
	latency *middleware.LatencyWindow

	handler http.Handler
	httpSrv *http.Server
	logger  zerolog.Logger
}

// NewServer builds the router once from the given configuration.
// Routing is fixed for the server's lifetime; config changes to the API
// section take effect on restart.
func NewServer(cfg config.APIConfig, deps Dependencies) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		latency: middleware.NewLatencyWindow(0),
		logger:  logging.Named("api"),
	}
	s.handler = s.buildRouter()
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Addr returns the host:port the server binds.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Handler returns the assembled router. Tests drive it directly
// through httptest without opening a socket.
func (s *Server) Handler() http.Handler { return s.handler }

// HTTPServer returns the configured http.Server for the supervisor to
// run and shut down.
func (s *Server) HTTPServer() *http.Server { return s.httpSrv }
