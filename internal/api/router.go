// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nexusruntime/nexus/internal/middleware"
)

// buildRouter assembles the full route tree. Chain order is fixed:
// request id, real ip, recoverer, CORS, rate limit, metrics, latency,
// authenticate, authorize. The permission each route needs is declared
// right here, not inside handlers.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.cfg.CORS))
	if s.cfg.Workers > 0 {
		r.Use(chimiddleware.Throttle(s.cfg.Workers))
	}

	// Unauthenticated surface.
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherers(), promhttp.HandlerOpts{}))
	if s.cfg.Swagger.Enabled {
		r.Get("/swagger/doc.json", s.handleOpenAPIDoc)
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("list"),
		))
	}

	// Credential endpoints live under a stricter rate budget than the
	// rest of the API.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.AuthRateLimit(s.cfg.RateLimit))
		r.Use(middleware.Metrics)
		r.Use(s.latency.Middleware)

		r.Post("/token", s.handleToken)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Security))
			r.Post("/revoke", s.handleRevoke)
			r.Get("/me", s.handleMe)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.RateLimit, "api"))
		r.Use(middleware.Metrics)
		r.Use(s.latency.Middleware)
		r.Use(middleware.Authenticate(s.deps.Security))

		r.Route("/users", func(r chi.Router) {
			r.With(s.require("users.read")).Get("/", s.handleListUsers)
			r.With(s.require("users.write")).Post("/", s.handleCreateUser)
			r.Route("/{id}", func(r chi.Router) {
				r.With(s.require("users.read")).Get("/", s.handleGetUser)
				r.With(s.require("users.write")).Put("/", s.handleUpdateUser)
				r.With(s.require("users.write")).Delete("/", s.handleDeleteUser)
			})
		})

		r.Route("/system", func(r chi.Router) {
			r.With(s.require("config.read")).Get("/config/*", s.handleGetConfig)
			r.With(s.require("config.write")).Put("/config/*", s.handleSetConfig)
			r.With(s.require("system.read")).Get("/status", s.handleStatus)
			r.With(s.require("system.backup")).Post("/backup", s.handleBackup)
		})

		r.Route("/plugins", func(r chi.Router) {
			r.With(s.require("plugins.read")).Get("/", s.handleListPlugins)
			r.With(s.require("plugins.read")).Get("/{name}", s.handleGetPlugin)
			r.With(s.require("plugins.manage")).Post("/{name}/{action}", s.handlePluginAction)
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Use(s.require("monitoring.read"))
			r.Get("/alerts", s.handleAlerts)
			r.Get("/diagnostics", s.handleDiagnostics)
		})

		r.With(s.require("audit.read")).Get("/audit", s.handleAuditList)

		if s.cfg.WebSocket.Enabled {
			r.With(s.require("events.subscribe")).Get("/events/ws", s.handleEventStream)
		}
	})

	return r
}

// require attaches the permission guard for one route.
func (s *Server) require(permission string) func(http.Handler) http.Handler {
	return middleware.Authorize(s.deps.Authz, permission)
}

func (s *Server) gatherers() prometheus.Gatherers {
	if len(s.deps.Gatherers) > 0 {
		return s.deps.Gatherers
	}
	return prometheus.Gatherers{prometheus.DefaultGatherer}
}
