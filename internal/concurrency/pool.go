// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package concurrency

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// queueFactor bounds each pool's backlog relative to its worker count.
// A full queue fails the submission instead of blocking the caller.
const queueFactor = 16

// PoolStats is a point-in-time view of one pool, surfaced through
// manager status endpoints.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
}

type pool struct {
	name    string
	workers int

	// baseCtx parents every task context; cancelled only when the pool
	// abandons stragglers so long-running tasks get a cooperative signal.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// mu serializes intake against shutdown so a task can never be
	// enqueued after the workers have drained and exited.
	mu     sync.RWMutex
	tasks  chan *Task
	quit   chan struct{}
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64

	logger zerolog.Logger
}

func newPool(name string, workers, queueSize int, logger zerolog.Logger) *pool {
	if queueSize <= 0 {
		queueSize = workers * queueFactor
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	p := &pool{
		name:       name,
		workers:    workers,
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
		tasks:      make(chan *Task, queueSize),
		quit:       make(chan struct{}),
		logger:     logger.With().Str("pool", name).Logger(),
	}
	metrics.PoolWorkers.WithLabelValues(name).Set(float64(workers))
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// submit enqueues a task built from fn. It fails fast with a
// ThreadManagerError when the pool is shut down or the queue is full.
func (p *pool) submit(ctx context.Context, name string, fn Func) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errs.New(errs.KindThreadManager, "pool is shut down").
			WithDetail("pool", p.name)
	}
	parent := p.baseCtx
	if ctx != nil {
		parent = ctx
	}
	t := newTask(parent, p.name, name, fn)
	select {
	case p.tasks <- t:
		p.submitted.Add(1)
		metrics.TasksSubmitted.WithLabelValues(p.name).Inc()
		metrics.TaskQueueDepth.WithLabelValues(p.name).Inc()
		return t, nil
	default:
		return nil, errs.New(errs.KindThreadManager, "pool queue is full").
			WithDetail("pool", p.name).
			WithDetail("capacity", cap(p.tasks))
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			metrics.TaskQueueDepth.WithLabelValues(p.name).Dec()
			p.execute(t)
		case <-p.quit:
			p.drain()
			return
		}
	}
}

// drain cancels everything still queued at shutdown. Multiple workers
// draining concurrently is harmless; each task resolves once.
func (p *pool) drain() {
	for {
		select {
		case t := <-p.tasks:
			metrics.TaskQueueDepth.WithLabelValues(p.name).Dec()
			t.resolve(nil, context.Canceled)
			p.recordOutcome(t, 0)
		default:
			return
		}
	}
}

func (p *pool) execute(t *Task) {
	if !t.beginRun() {
		// Cancelled while queued.
		p.recordOutcome(t, 0)
		return
	}
	start := time.Now()
	value, err := p.invoke(t)
	t.resolve(value, err)
	p.recordOutcome(t, time.Since(start))
}

// invoke runs the task function with panic containment. A panic is
// converted into a ThreadManagerError so one bad task cannot take the
// worker down.
func (p *pool) invoke(t *Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("task", t.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			err = errs.Newf(errs.KindThreadManager, "task %q panicked: %v", t.name, r).
				WithDetail("pool", p.name).
				WithDetail("panic", true)
		}
	}()
	return t.fn(t.ctx)
}

func (p *pool) recordOutcome(t *Task, duration time.Duration) {
	p.completed.Add(1)
	result := "success"
	switch {
	case t.cancelled():
		result = "cancelled"
	case t.Err() != nil:
		result = "error"
		if e, ok := t.Err().(*errs.Error); ok {
			if _, panicked := e.Detail("panic"); panicked {
				result = "panic"
			}
		}
	}
	metrics.RecordTask(p.name, result, duration)
}

// shutdown stops intake, cancels the backlog, and waits up to grace for
// running tasks. Stragglers are logged, given a cooperative cancel, and
// abandoned.
func (p *pool) shutdown(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.quit)

	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug().Msg("Pool drained")
		return nil
	case <-waitCtx.Done():
		p.cancelBase()
		p.logger.Warn().
			Dur("grace", grace).
			Msg("Pool shutdown grace expired; abandoning running tasks")
		return errs.New(errs.KindThreadManager, "pool shutdown grace expired").
			WithDetail("pool", p.name).
			WithDetail("grace", grace.String())
	}
}

func (p *pool) stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueDepth: len(p.tasks),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
	}
}
