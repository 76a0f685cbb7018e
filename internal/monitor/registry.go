// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/nexusruntime/nexus/internal/errs"
)

// MetricRegistry lets managers and plugins register named instruments at
// runtime. It is backed by its own prometheus.Registry so caller metrics
// never collide with the runtime's built-in instrumentation.
type MetricRegistry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	registered map[string]prometheus.Collector
}

// NewMetricRegistry builds an empty registry.
func NewMetricRegistry() *MetricRegistry {
	return &MetricRegistry{
		reg:        prometheus.NewRegistry(),
		registered: make(map[string]prometheus.Collector),
	}
}

// RegisterGauge adds a labelled gauge. Registering a name twice fails
// with a ValidationError.
func (r *MetricRegistry) RegisterGauge(name, help string, labels []string) (*prometheus.GaugeVec, error) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	if err := r.add(name, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// RegisterCounter adds a labelled counter.
func (r *MetricRegistry) RegisterCounter(name, help string, labels []string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := r.add(name, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// RegisterHistogram adds a labelled histogram. Nil buckets use the
// prometheus defaults.
func (r *MetricRegistry) RegisterHistogram(name, help string, buckets []float64, labels []string) (*prometheus.HistogramVec, error) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	if err := r.add(name, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// RegisterSummary adds a labelled summary. Nil objectives track none.
func (r *MetricRegistry) RegisterSummary(name, help string, objectives map[float64]float64, labels []string) (*prometheus.SummaryVec, error) {
	vec := prometheus.NewSummaryVec(prometheus.SummaryOpts{Name: name, Help: help, Objectives: objectives}, labels)
	if err := r.add(name, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *MetricRegistry) add(name string, c prometheus.Collector) error {
	if name == "" {
		return errs.New(errs.KindValidation, "metric name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registered[name]; exists {
		return errs.Newf(errs.KindValidation, "metric %q is already registered", name).
			WithDetail("metric", name)
	}
	if err := r.reg.Register(c); err != nil {
		return errs.Wrap(errs.KindValidation, "metric registration rejected", err).
			WithDetail("metric", name)
	}
	r.registered[name] = c
	return nil
}

// Unregister removes a named instrument; it reports whether the name was
// known.
func (r *MetricRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.registered[name]
	if !ok {
		return false
	}
	delete(r.registered, name)
	return r.reg.Unregister(c)
}

// Names lists registered instrument names.
func (r *MetricRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.registered))
	for name := range r.registered {
		names = append(names, name)
	}
	return names
}

// Gatherer exposes the backing registry for scrape handlers.
func (r *MetricRegistry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the prometheus exposition format.
func (r *MetricRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Families gathers the registry into client_model families for the
// diagnostics endpoint.
func (r *MetricRegistry) Families() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}
