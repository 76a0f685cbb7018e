// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total number of events accepted by the bus",
		},
		[]string{"event_type"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_delivered_total",
			Help: "Total number of events delivered to subscriber callbacks",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Total number of events dropped before delivery",
		},
		[]string{"reason"}, // queue_full, subscriber_queue_full, closed
	)

	EventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_queue_depth",
			Help: "Current number of events waiting in the bus intake queue",
		},
	)

	EventDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bus_delivery_duration_seconds",
			Help:    "Time from publish to subscriber callback return",
			Buckets: prometheus.DefBuckets,
		},
	)

	BusSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_subscriptions",
			Help: "Current number of active subscriptions",
		},
	)

	// Thread pool metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_tasks_submitted_total",
			Help: "Total number of tasks submitted to the pools",
		},
		[]string{"pool"}, // cpu, io, isolated, main
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_tasks_completed_total",
			Help: "Total number of tasks finished, by outcome",
		},
		[]string{"pool", "result"}, // success, error, cancelled, panic
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_task_duration_seconds",
			Help:    "Task execution time by pool",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"pool"},
	)

	TaskQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_queue_depth",
			Help: "Current number of queued tasks per pool",
		},
		[]string{"pool"},
	)

	PoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_workers",
			Help: "Configured worker count per pool",
		},
		[]string{"pool"},
	)

	// Manager registry metrics
	ManagerInitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manager_init_duration_seconds",
			Help:    "Time each manager spent in Initialize",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"manager"},
	)

	ManagerShutdownDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manager_shutdown_duration_seconds",
			Help:    "Time each manager spent in Shutdown",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"manager"},
	)

	ManagerUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "manager_up",
			Help: "1 while the manager is initialized and healthy",
		},
		[]string{"manager"},
	)

	// System resource metrics (sampled by the resource monitor)
	SystemCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_cpu_percent",
			Help: "Host CPU utilization percentage",
		},
	)

	SystemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_memory_percent",
			Help: "Host memory utilization percentage",
		},
	)

	SystemDiskPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_disk_percent",
			Help: "Root volume disk utilization percentage",
		},
	)

	MonitorSampleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_sample_errors_total",
			Help: "Total number of failed resource probes",
		},
		[]string{"probe"}, // cpu, memory, disk
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"level", "metric"},
	)

	AlertsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
	)

	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_alerts_active",
			Help: "Current number of unresolved alerts by level",
		},
		[]string{"level"},
	)

	// Security metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"}, // success, failure
	)

	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
		[]string{"token_type"}, // access, refresh
	)

	TokensRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_revoked_total",
			Help: "Total number of tokens revoked",
		},
		[]string{"scope"}, // single, all, secret_change
	)

	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Total number of token verification attempts",
		},
		[]string{"result"}, // ok, expired, revoked, invalid
	)

	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of permission checks",
		},
		[]string{"decision"}, // allowed, denied
	)

	// Plugin metrics
	PluginsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plugins_loaded",
			Help: "Current number of loaded plugins",
		},
	)

	PluginInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_invocations_total",
			Help: "Total number of plugin method invocations",
		},
		[]string{"plugin", "method", "result"}, // success, error, timeout, rejected
	)

	PluginInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plugin_invocation_duration_seconds",
			Help:    "Plugin method invocation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "method"},
	)

	PluginBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plugin_breaker_state",
			Help: "Plugin circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"plugin"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// WebSocket metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket event-stream clients",
		},
	)

	WSEventsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_events_sent_total",
			Help: "Total number of events pushed to WebSocket clients",
		},
	)

	WSEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_events_dropped_total",
			Help: "Total number of events dropped on slow WebSocket clients",
		},
	)

	// External bridge metrics
	BridgeMessagesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_out_total",
			Help: "Total number of bus events forwarded to the external broker",
		},
	)

	BridgeMessagesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_in_total",
			Help: "Total number of external messages republished onto the bus",
		},
	)

	BridgeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of bridge failures",
		},
		[]string{"direction"}, // out, in
	)

	BridgeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_reconnects_total",
			Help: "Total number of broker reconnect attempts",
		},
	)

	// Application metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordEventPublished marks an event accepted into the intake queue.
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDelivered marks one subscriber callback completion and the
// publish-to-callback latency.
func RecordEventDelivered(eventType string, latency time.Duration) {
	EventsDelivered.WithLabelValues(eventType).Inc()
	EventDeliveryDuration.Observe(latency.Seconds())
}

// RecordEventDropped marks an event discarded before delivery.
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordTask marks a finished task with its pool, outcome, and duration.
func RecordTask(pool, result string, duration time.Duration) {
	TasksCompleted.WithLabelValues(pool, result).Inc()
	TaskDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

// RecordManagerInit records one manager initialization.
func RecordManagerInit(manager string, duration time.Duration, err error) {
	ManagerInitDuration.WithLabelValues(manager).Observe(duration.Seconds())
	if err == nil {
		ManagerUp.WithLabelValues(manager).Set(1)
	} else {
		ManagerUp.WithLabelValues(manager).Set(0)
	}
}

// RecordManagerShutdown records one manager shutdown.
func RecordManagerShutdown(manager string, duration time.Duration) {
	ManagerShutdownDuration.WithLabelValues(manager).Observe(duration.Seconds())
	ManagerUp.WithLabelValues(manager).Set(0)
}

// UpdateSystemGauges publishes the latest resource sample.
func UpdateSystemGauges(cpuPercent, memoryPercent, diskPercent float64) {
	SystemCPUPercent.Set(cpuPercent)
	SystemMemoryPercent.Set(memoryPercent)
	SystemDiskPercent.Set(diskPercent)
}

// RecordAuthAttempt marks one authentication attempt.
func RecordAuthAttempt(success bool) {
	if success {
		AuthAttempts.WithLabelValues("success").Inc()
	} else {
		AuthAttempts.WithLabelValues("failure").Inc()
	}
}

// RecordTokenVerification marks one token verification outcome.
func RecordTokenVerification(result string) {
	TokenVerifications.WithLabelValues(result).Inc()
}

// RecordAuthzDecision marks one permission check outcome.
func RecordAuthzDecision(allowed bool) {
	if allowed {
		AuthzDecisions.WithLabelValues("allowed").Inc()
	} else {
		AuthzDecisions.WithLabelValues("denied").Inc()
	}
}

// RecordPluginInvocation marks one plugin method call.
func RecordPluginInvocation(plugin, method, result string, duration time.Duration) {
	PluginInvocations.WithLabelValues(plugin, method, result).Inc()
	PluginInvocationDuration.WithLabelValues(plugin, method).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetAppInfo publishes the build identity gauge once at startup.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
