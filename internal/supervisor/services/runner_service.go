// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunFunc is a cancellation-aware loop: it blocks until its context is
// canceled or it fails. The resource monitor, the external bridge, and
// the security token sweeper all have this shape.
type RunFunc func(ctx context.Context) error

// RunnerService wraps a RunFunc as a supervised service. A nil or
// context-cancellation return is a clean stop; anything else makes
// suture restart the loop under its backoff policy.
type RunnerService struct {
	name string
	run  RunFunc
}

// NewRunnerService wraps run under the given service name.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (s *RunnerService) String() string { return s.name }

// TickerService runs fn every interval until canceled. Used for
// housekeeping jobs that are periodic rather than loop-shaped: store
// value-log GC, audit retention sweeps.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// NewTickerService builds a periodic service. Intervals below one
// second are raised to one second.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context) error) *TickerService {
	if interval < time.Second {
		interval = time.Second
	}
	return &TickerService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service. Job errors are reported by the job
// itself (each logs its own failures); they do not stop the ticker,
// since restarting a periodic job early would only tighten its schedule.
func (s *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = s.fn(ctx)
		}
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *TickerService) String() string { return s.name }
