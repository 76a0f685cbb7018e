// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package concurrency

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// mainDispatchQueue bounds the hand-off channel to the main goroutine.
const mainDispatchQueue = 64

type mainCtxKey struct{}

// MainDispatcher delivers work to the designated main goroutine. The
// goroutine that calls Run becomes "main": work submitted from it runs
// inline, work submitted anywhere else is handed off through a channel
// and executed in submission order. Affinity is carried in the context
// Run threads through each call, so it is a per-dispatcher query rather
// than global state.
type MainDispatcher struct {
	calls  chan *Task
	logger zerolog.Logger
}

// NewMainDispatcher builds a dispatcher. It is inert until Run is
// called on the goroutine that should own main-affine work.
func NewMainDispatcher(logger zerolog.Logger) *MainDispatcher {
	return &MainDispatcher{
		calls:  make(chan *Task, mainDispatchQueue),
		logger: logger.With().Str("pool", "main").Logger(),
	}
}

// OnMain reports whether ctx belongs to this dispatcher's Run loop.
func (d *MainDispatcher) OnMain(ctx context.Context) bool {
	owner, ok := ctx.Value(mainCtxKey{}).(*MainDispatcher)
	return ok && owner == d
}

// Submit schedules fn on the main goroutine. When ctx already belongs
// to the Run loop the function executes inline and the returned Task is
// resolved on return. Otherwise the task is queued; a full queue fails
// fast with a ThreadManagerError.
func (d *MainDispatcher) Submit(ctx context.Context, name string, fn Func) (*Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := newTask(ctx, "main", name, fn)
	metrics.TasksSubmitted.WithLabelValues("main").Inc()

	if d.OnMain(ctx) {
		d.executeInline(t)
		return t, nil
	}

	select {
	case d.calls <- t:
		metrics.TaskQueueDepth.WithLabelValues("main").Inc()
		return t, nil
	default:
		return nil, errs.New(errs.KindThreadManager, "main dispatch queue is full").
			WithDetail("pool", "main").
			WithDetail("capacity", cap(d.calls))
	}
}

// Run services the hand-off channel until ctx is cancelled. The caller's
// goroutine is the main goroutine for the lifetime of the loop. Pending
// work left in the queue at exit is cancelled.
func (d *MainDispatcher) Run(ctx context.Context) {
	ctx = context.WithValue(ctx, mainCtxKey{}, d)
	for {
		select {
		case t := <-d.calls:
			metrics.TaskQueueDepth.WithLabelValues("main").Dec()
			d.executeInline(t)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *MainDispatcher) drain() {
	for {
		select {
		case t := <-d.calls:
			metrics.TaskQueueDepth.WithLabelValues("main").Dec()
			t.resolve(nil, context.Canceled)
			metrics.RecordTask("main", "cancelled", 0)
		default:
			return
		}
	}
}

// executeInline runs t on the current goroutine. The run context derives
// from the task's own context so Cancel propagates, with main affinity
// layered on top so nested Submit calls from inside fn execute inline
// instead of deadlocking on the hand-off channel.
func (d *MainDispatcher) executeInline(t *Task) {
	if !t.beginRun() {
		metrics.RecordTask("main", "cancelled", 0)
		return
	}
	runCtx := context.WithValue(t.ctx, mainCtxKey{}, d)
	start := time.Now()
	value, err := d.invoke(runCtx, t)
	t.resolve(value, err)

	result := "success"
	switch {
	case t.cancelled():
		result = "cancelled"
	case err != nil:
		result = "error"
	}
	metrics.RecordTask("main", result, time.Since(start))
}

func (d *MainDispatcher) invoke(ctx context.Context, t *Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("task", t.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Main-dispatched task panicked")
			err = errs.Newf(errs.KindThreadManager, "task %q panicked: %v", t.name, r).
				WithDetail("pool", "main").
				WithDetail("panic", true)
		}
	}()
	return t.fn(ctx)
}
