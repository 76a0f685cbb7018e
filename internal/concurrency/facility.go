// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package concurrency

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
)

// Shutdown grace windows. The isolated pool gets a longer window because
// its tasks are deliberately decoupled from caller lifetimes.
const (
	poolShutdownGrace     = 5 * time.Second
	isolatedShutdownGrace = 15 * time.Second
)

// Facility owns the three worker pools and the main dispatcher. All
// submission surfaces fail fast with ThreadManagerError when their queue
// is full or the facility is shut down.
type Facility struct {
	cpu        *pool
	io         *pool
	isolated   *pool // nil when the process pool is disabled
	dispatcher *MainDispatcher
}

// New builds the facility from thread_pool configuration. Non-positive
// sizes resolve against the host CPU count: worker_threads to NumCPU,
// io_threads to 2*NumCPU, process_workers to NumCPU.
func New(cfg config.ThreadPoolConfig) *Facility {
	logger := logging.Named("concurrency")

	cpuWorkers := cfg.WorkerThreads
	if cpuWorkers <= 0 {
		cpuWorkers = runtime.NumCPU()
	}
	ioWorkers := cfg.IOThreads
	if ioWorkers <= 0 {
		ioWorkers = 2 * runtime.NumCPU()
	}

	f := &Facility{
		cpu:        newPool("cpu", cpuWorkers, cfg.QueueSize, logger),
		io:         newPool("io", ioWorkers, cfg.QueueSize, logger),
		dispatcher: NewMainDispatcher(logger),
	}

	if cfg.EnableProcessPool {
		isolatedWorkers := cfg.ProcessWorkers
		if isolatedWorkers <= 0 {
			isolatedWorkers = runtime.NumCPU()
		}
		f.isolated = newPool("isolated", isolatedWorkers, cfg.QueueSize, logger)
	}

	logger.Info().
		Int("cpu_workers", cpuWorkers).
		Int("io_workers", ioWorkers).
		Bool("isolated_enabled", f.isolated != nil).
		Msg("Concurrency facility started")
	return f
}

// RunCPU submits CPU-bound work.
func (f *Facility) RunCPU(ctx context.Context, name string, fn Func) (*Task, error) {
	return f.cpu.submit(ctx, name, fn)
}

// RunIO submits I/O-bound work.
func (f *Facility) RunIO(ctx context.Context, name string, fn Func) (*Task, error) {
	return f.io.submit(ctx, name, fn)
}

// RunIsolated submits work to the isolated pool. Tasks there run under
// the pool's own root context rather than the caller's, so caller
// cancellation never reaches them. Submission fails when the pool is
// disabled by configuration.
func (f *Facility) RunIsolated(name string, fn Func) (*Task, error) {
	if f.isolated == nil {
		return nil, errs.New(errs.KindThreadManager, "isolated pool is disabled").
			WithDetail("pool", "isolated")
	}
	return f.isolated.submit(nil, name, fn)
}

// RunOnMain schedules fn on the main goroutine through the dispatcher.
func (f *Facility) RunOnMain(ctx context.Context, name string, fn Func) (*Task, error) {
	return f.dispatcher.Submit(ctx, name, fn)
}

// Dispatcher exposes the main dispatcher so the owning goroutine can
// service it with Run.
func (f *Facility) Dispatcher() *MainDispatcher { return f.dispatcher }

// Stats snapshots every pool for status reporting.
func (f *Facility) Stats() map[string]PoolStats {
	stats := map[string]PoolStats{
		"cpu": f.cpu.stats(),
		"io":  f.io.stats(),
	}
	if f.isolated != nil {
		stats["isolated"] = f.isolated.stats()
	}
	return stats
}

// Shutdown stops intake on every pool, cancels queued tasks, and waits a
// bounded time per pool for running work. Errors from individual pools
// are joined; stragglers are abandoned with a warning.
func (f *Facility) Shutdown(ctx context.Context) error {
	var errsAll []error
	if err := f.cpu.shutdown(ctx, poolShutdownGrace); err != nil {
		errsAll = append(errsAll, err)
	}
	if err := f.io.shutdown(ctx, poolShutdownGrace); err != nil {
		errsAll = append(errsAll, err)
	}
	if f.isolated != nil {
		if err := f.isolated.shutdown(ctx, isolatedShutdownGrace); err != nil {
			errsAll = append(errsAll, err)
		}
	}
	return errors.Join(errsAll...)
}
