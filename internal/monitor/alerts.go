// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/metrics"
	"github.com/nexusruntime/nexus/internal/models"
)

// criticalFactor escalates an alert once the value reaches this multiple
// of its warning threshold.
const criticalFactor = 1.25

// resolvedHistoryCap bounds the resolved-alert deque; the oldest entry is
// evicted first.
const resolvedHistoryCap = 100

// alertSource names the monitor in alert records and bus events.
const alertSource = "resource_monitor"

// Bus event types emitted by the alert machine.
const (
	EventAlert         = "monitoring/alert"
	EventAlertResolved = "monitoring/alert_resolved"
)

// alertBook runs the per-metric alert state machine:
//
//	idle    -- value >= threshold ------> warning
//	warning -- value >= 1.25*threshold -> critical (same alert, escalated)
//	active  -- value <  threshold ------> resolved (pushed to history)
//
// One active alert exists per metric; repeated breaches at the same level
// update Timestamp and MetricValue in place without re-publishing.
type alertBook struct {
	mu       sync.Mutex
	active   map[string]*models.Alert
	resolved []*models.Alert

	publisher EventPublisher
	logger    zerolog.Logger
}

func newAlertBook(publisher EventPublisher, logger zerolog.Logger) *alertBook {
	return &alertBook{
		active:    make(map[string]*models.Alert),
		publisher: publisher,
		logger:    logger,
	}
}

// observe feeds one sample into the machine. threshold <= 0 disables
// alerting for the metric.
func (b *alertBook) observe(metric string, value, threshold float64) {
	if threshold <= 0 {
		return
	}
	if value >= threshold {
		b.breach(metric, value, threshold)
		return
	}
	b.clear(metric, value)
}

func (b *alertBook) breach(metric string, value, threshold float64) {
	level := models.AlertLevelWarning
	if value >= threshold*criticalFactor {
		level = models.AlertLevelCritical
	}
	now := time.Now().UTC()

	b.mu.Lock()
	a, exists := b.active[metric]
	if !exists {
		a = &models.Alert{
			ID:          uuid.New(),
			Level:       level,
			Message:     alertMessage(metric, level, value, threshold),
			Source:      alertSource,
			Timestamp:   now,
			MetricName:  metric,
			MetricValue: value,
			Threshold:   threshold,
		}
		b.active[metric] = a
		event := a.Clone()
		b.mu.Unlock()

		metrics.AlertsRaised.WithLabelValues(string(level), metric).Inc()
		metrics.AlertsActive.WithLabelValues(string(level)).Inc()
		b.logger.Warn().
			Str("metric", metric).
			Float64("value", value).
			Float64("threshold", threshold).
			Str("level", string(level)).
			Msg("Resource alert raised")
		b.publish(EventAlert, event)
		return
	}

	escalated := a.Level == models.AlertLevelWarning && level == models.AlertLevelCritical
	a.Timestamp = now
	a.MetricValue = value
	if escalated {
		a.Level = models.AlertLevelCritical
		a.Message = alertMessage(metric, level, value, threshold)
	}
	event := a.Clone()
	b.mu.Unlock()

	if !escalated {
		return
	}
	metrics.AlertsRaised.WithLabelValues(string(models.AlertLevelCritical), metric).Inc()
	metrics.AlertsActive.WithLabelValues(string(models.AlertLevelWarning)).Dec()
	metrics.AlertsActive.WithLabelValues(string(models.AlertLevelCritical)).Inc()
	b.logger.Warn().
		Str("metric", metric).
		Float64("value", value).
		Msg("Resource alert escalated to critical")
	b.publish(EventAlert, event)
}

func (b *alertBook) clear(metric string, value float64) {
	now := time.Now().UTC()

	b.mu.Lock()
	a, exists := b.active[metric]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(b.active, metric)
	a.Resolved = true
	a.ResolvedAt = &now
	a.MetricValue = value
	b.resolved = append(b.resolved, a)
	if len(b.resolved) > resolvedHistoryCap {
		b.resolved = b.resolved[len(b.resolved)-resolvedHistoryCap:]
	}
	event := a.Clone()
	level := a.Level
	b.mu.Unlock()

	metrics.AlertsResolved.Inc()
	metrics.AlertsActive.WithLabelValues(string(level)).Dec()
	b.logger.Info().
		Str("metric", metric).
		Float64("value", value).
		Msg("Resource alert resolved")
	b.publish(EventAlertResolved, event)
}

func (b *alertBook) publish(eventType string, a *models.Alert) {
	if b.publisher == nil {
		return
	}
	payload := map[string]any{
		"id":           a.ID.String(),
		"level":        string(a.Level),
		"metric_name":  a.MetricName,
		"metric_value": a.MetricValue,
		"threshold":    a.Threshold,
		"message":      a.Message,
		"resolved":     a.Resolved,
	}
	if _, err := b.publisher.Publish(eventType, alertSource, payload); err != nil {
		b.logger.Warn().Err(err).Str("event_type", eventType).Msg("Alert event dropped")
	}
}

// activeAlerts returns clones of the active set ordered by metric name.
func (b *alertBook) activeAlerts() []*models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Alert, 0, len(b.active))
	for _, a := range b.active {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out
}

// resolvedAlerts returns clones of the resolved history, oldest first.
func (b *alertBook) resolvedAlerts() []*models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Alert, 0, len(b.resolved))
	for _, a := range b.resolved {
		out = append(out, a.Clone())
	}
	return out
}

func alertMessage(metric string, level models.AlertLevel, value, threshold float64) string {
	return fmt.Sprintf("%s at %.1f%% (threshold %.1f%%, %s)", metric, value, threshold, level)
}
