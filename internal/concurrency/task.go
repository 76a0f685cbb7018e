// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package concurrency provides the runtime's task execution facility:
// bounded worker pools for CPU-bound, I/O-bound, and isolated work, plus
// a dispatcher for code that must run on the designated main goroutine.
// Submissions return a Task future that can be awaited and cancelled.
package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/nexusruntime/nexus/internal/errs"
)

// Func is the unit of work accepted by every submission surface.
// Implementations should honor ctx cancellation; a cancelled running
// task is cooperative and is never forcibly terminated.
type Func func(ctx context.Context) (any, error)

type taskState int

const (
	taskPending taskState = iota
	taskRunning
	taskDone
)

// Task is the future returned by pool submissions. It resolves exactly
// once: with the function's value, its error, or a cancellation.
type Task struct {
	name string
	pool string
	fn   Func

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     taskState
	done      chan struct{}
	value     any
	err       error
	submitted time.Time
}

func newTask(parent context.Context, pool, name string, fn Func) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		name:      name,
		pool:      pool,
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		submitted: time.Now(),
	}
}

// Name returns the caller-supplied task name.
func (t *Task) Name() string { return t.name }

// Pool returns the pool the task was submitted to.
func (t *Task) Pool() string { return t.pool }

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the terminal error. It is nil until the task finishes and
// nil afterwards if the task succeeded.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Value returns the task's result. It is nil until the task finishes.
func (t *Task) Value() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Cancel requests cancellation. A task that has not started is resolved
// immediately with context.Canceled and will never execute. A running
// task has its context cancelled; the function decides whether to stop,
// and the task resolves with whatever it returns.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state == taskPending {
		t.state = taskDone
		t.err = context.Canceled
		close(t.done)
		t.mu.Unlock()
		t.cancel()
		return
	}
	t.mu.Unlock()
	t.cancel()
}

// Await blocks until the task resolves or ctx expires. On deadline it
// reports a ThreadManagerError carrying a timeout detail; the underlying
// function may still complete afterwards.
func (t *Task) Await(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, t.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.KindThreadManager, "task await timed out", ctx.Err()).
				WithDetail("timeout", true).
				WithDetail("task", t.name).
				WithDetail("pool", t.pool)
		}
		return nil, ctx.Err()
	}
}

// beginRun transitions pending -> running. It returns false when the
// task was cancelled before a worker picked it up.
func (t *Task) beginRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != taskPending {
		return false
	}
	t.state = taskRunning
	return true
}

// resolve records the terminal value and error. Safe to call once.
func (t *Task) resolve(value any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == taskDone {
		return
	}
	t.state = taskDone
	t.value = value
	t.err = err
	close(t.done)
}

// cancelled reports whether the task resolved with context.Canceled.
func (t *Task) cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskDone && t.err == context.Canceled
}
