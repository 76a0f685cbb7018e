// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package monitor samples host resources, drives the alert state machine,
// and hosts the runtime metric registry. The sampling loops are designed
// to run under the supervisor: Run blocks until its context is cancelled.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
	"github.com/nexusruntime/nexus/internal/models"
)

const (
	defaultSampleInterval = 10 * time.Second
	uptimeInterval        = 60 * time.Second
	rootVolume            = "/"
)

// Metric names used by the sampling loop and the alert machine.
const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricDiskPercent   = "disk_percent"
)

// EventPublisher is the slice of the event bus the monitor publishes
// alert transitions through.
type EventPublisher interface {
	Publish(eventType, source string, payload map[string]any) (uuid.UUID, error)
}

// Sampler abstracts the host probes so tests can inject deterministic
// values.
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context) (float64, error)
}

// gopsutilSampler is the production Sampler.
type gopsutilSampler struct{}

func (gopsutilSampler) CPUPercent(ctx context.Context) (float64, error) {
	// Interval 0 measures since the previous call instead of blocking.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("cpu probe returned no samples")
	}
	return percents[0], nil
}

func (gopsutilSampler) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (gopsutilSampler) DiskPercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, rootVolume)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// Monitor owns the sampling loops, the alert book, and the runtime
// metric registry.
type Monitor struct {
	interval   time.Duration
	thresholds config.AlertThresholds

	sampler  Sampler
	book     *alertBook
	registry *MetricRegistry

	started time.Time
	retryAt time.Time
	backoff *backoff.ExponentialBackOff

	logger zerolog.Logger
}

// New builds a monitor from monitoring configuration. publisher may be
// nil, which disables alert events but not the state machine.
func New(cfg config.MonitoringConfig, publisher EventPublisher) *Monitor {
	logger := logging.Named("monitor")

	interval := time.Duration(cfg.MetricsIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // keep retrying for the process lifetime

	return &Monitor{
		interval:   interval,
		thresholds: cfg.AlertThresholds,
		sampler:    gopsutilSampler{},
		book:       newAlertBook(publisher, logger),
		registry:   NewMetricRegistry(),
		started:    time.Now(),
		backoff:    bo,
		logger:     logger,
	}
}

// SetSampler swaps the host probes; intended for tests.
func (m *Monitor) SetSampler(s Sampler) { m.sampler = s }

// Registry returns the runtime metric registry.
func (m *Monitor) Registry() *MetricRegistry { return m.registry }

// Uptime reports how long the monitor (and so the process hosting it)
// has been running.
func (m *Monitor) Uptime() time.Duration { return time.Since(m.started) }

// ActiveAlerts returns the unresolved alerts ordered by metric name.
func (m *Monitor) ActiveAlerts() []*models.Alert { return m.book.activeAlerts() }

// ResolvedAlerts returns the bounded resolved history, oldest first.
func (m *Monitor) ResolvedAlerts() []*models.Alert { return m.book.resolvedAlerts() }

// Run drives both sampling loops until ctx is cancelled. Sampling
// failures are logged, counted, and retried with exponential backoff;
// they never terminate the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.interval).
		Float64("cpu_threshold", m.thresholds.CPUPercent).
		Float64("memory_threshold", m.thresholds.MemoryPercent).
		Float64("disk_threshold", m.thresholds.DiskPercent).
		Msg("Resource monitor started")

	sampleTicker := time.NewTicker(m.interval)
	defer sampleTicker.Stop()
	uptimeTicker := time.NewTicker(uptimeInterval)
	defer uptimeTicker.Stop()

	// Prime the gauges so dashboards have data before the first tick.
	m.sampleSystem(ctx)
	m.sampleUptime()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Resource monitor stopped")
			return nil
		case <-sampleTicker.C:
			if time.Now().Before(m.retryAt) {
				continue
			}
			m.sampleSystem(ctx)
		case <-uptimeTicker.C:
			m.sampleUptime()
		}
	}
}

// SampleNow runs one system sample immediately, outside the loop.
func (m *Monitor) SampleNow(ctx context.Context) { m.sampleSystem(ctx) }

func (m *Monitor) sampleSystem(ctx context.Context) {
	type probe struct {
		name      string
		threshold float64
		read      func(context.Context) (float64, error)
	}
	probes := []probe{
		{MetricCPUPercent, m.thresholds.CPUPercent, m.sampler.CPUPercent},
		{MetricMemoryPercent, m.thresholds.MemoryPercent, m.sampler.MemoryPercent},
		{MetricDiskPercent, m.thresholds.DiskPercent, m.sampler.DiskPercent},
	}

	failed := false
	for _, p := range probes {
		value, err := p.read(ctx)
		if err != nil {
			// Keep the previous gauge value rather than reporting zero.
			failed = true
			metrics.MonitorSampleErrors.WithLabelValues(p.name).Inc()
			m.logger.Warn().Err(err).Str("probe", p.name).Msg("Resource probe failed")
			continue
		}
		switch p.name {
		case MetricCPUPercent:
			metrics.SystemCPUPercent.Set(value)
		case MetricMemoryPercent:
			metrics.SystemMemoryPercent.Set(value)
		case MetricDiskPercent:
			metrics.SystemDiskPercent.Set(value)
		}
		m.book.observe(p.name, value, p.threshold)
	}

	if failed {
		m.retryAt = time.Now().Add(m.backoff.NextBackOff())
		return
	}
	m.backoff.Reset()
	m.retryAt = time.Time{}
}

func (m *Monitor) sampleUptime() {
	metrics.AppUptime.Set(time.Since(m.started).Seconds())
}
