// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerServiceCleanStop(t *testing.T) {
	t.Parallel()

	svc := NewRunnerService("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestRunnerServiceWrapsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	svc := NewRunnerService("loop", func(ctx context.Context) error { return boom })

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Serve = %v, want wrapped boom", err)
	}
}

func TestTickerServiceRunsPeriodically(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	svc := NewTickerService("gc", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	// The constructor floors sub-second intervals; drive the loop
	// directly with a short one for the test.
	svc.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want at least 3", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestTickerServiceSurvivesJobErrors(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	svc := NewTickerService("gc", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	})
	svc.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times despite errors, want at least 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
