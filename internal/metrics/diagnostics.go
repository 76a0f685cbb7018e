// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// FamilySnapshot is a JSON-friendly view of one metric family, used by
// the diagnostics endpoint to report runtime counters without requiring
// a Prometheus scraper.
type FamilySnapshot struct {
	Name    string           `json:"name"`
	Help    string           `json:"help,omitempty"`
	Type    string           `json:"type"`
	Samples []SampleSnapshot `json:"samples"`
}

// SampleSnapshot is a single labeled sample within a family. Histograms
// and summaries report observation count and sum instead of a value.
type SampleSnapshot struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value,omitempty"`
	Count  uint64            `json:"count,omitempty"`
	Sum    float64           `json:"sum,omitempty"`
}

// Snapshot gathers the default registry and converts it to snapshots.
// With prefixes given, only families whose name starts with one of them
// are included; callers typically filter out go_ and process_ families.
func Snapshot(prefixes ...string) ([]FamilySnapshot, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	out := make([]FamilySnapshot, 0, len(families))
	for _, mf := range families {
		name := mf.GetName()
		if len(prefixes) > 0 && !hasAnyPrefix(name, prefixes) {
			continue
		}
		fs := FamilySnapshot{
			Name: name,
			Help: mf.GetHelp(),
			Type: mf.GetType().String(),
		}
		for _, m := range mf.GetMetric() {
			fs.Samples = append(fs.Samples, sampleFromMetric(mf.GetType(), m))
		}
		out = append(out, fs)
	}
	return out, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func sampleFromMetric(t dto.MetricType, m *dto.Metric) SampleSnapshot {
	s := SampleSnapshot{}
	if len(m.GetLabel()) > 0 {
		s.Labels = make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			s.Labels[lp.GetName()] = lp.GetValue()
		}
	}

	switch t {
	case dto.MetricType_COUNTER:
		s.Value = m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		s.Count = m.GetHistogram().GetSampleCount()
		s.Sum = m.GetHistogram().GetSampleSum()
	case dto.MetricType_SUMMARY:
		s.Count = m.GetSummary().GetSampleCount()
		s.Sum = m.GetSummary().GetSampleSum()
	default:
		s.Value = m.GetUntyped().GetValue()
	}
	return s
}
