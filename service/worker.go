/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-concurrencylimit/log"
)

// ErrPeriodicWorkerStop is an error that may be used for interrupting PeriodicWorker's loop.
var ErrPeriodicWorkerStop = errors.New("stop periodic worker error")

// Worker performs some (usually long-running) work.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run is a part of Worker interface.
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PeriodicWorker runs the underlying worker at a fixed rate.
// Ticks are not shifted by the duration of runs. A tick that fires while the previous run
// is still in progress is skipped, so runs never overlap.
type PeriodicWorker struct {
	worker         Worker
	logger         log.FieldLogger
	interval       time.Duration
	initialDelay   time.Duration
	runImmediately bool

	busy    atomic.Bool
	skipped atomic.Int64
	runs    sync.WaitGroup
}

// PeriodicWorkerOpts contains optional parameters for constructing PeriodicWorker.
type PeriodicWorkerOpts struct {
	// InitialDelay postpones the start of the ticker.
	InitialDelay time.Duration
	// RunImmediately makes the first run happen right after the initial delay instead of one interval later.
	RunImmediately bool
}

// NewPeriodicWorker creates a new instance of PeriodicWorker.
func NewPeriodicWorker(worker Worker, interval time.Duration, logger log.FieldLogger) *PeriodicWorker {
	return NewPeriodicWorkerWithOpts(worker, interval, logger, PeriodicWorkerOpts{})
}

// NewPeriodicWorkerWithOpts creates a new instance of PeriodicWorker
// with an ability to specify different optional parameters.
func NewPeriodicWorkerWithOpts(
	worker Worker, interval time.Duration, logger log.FieldLogger, opts PeriodicWorkerOpts,
) *PeriodicWorker {
	return &PeriodicWorker{
		worker:         worker,
		logger:         logger,
		interval:       interval,
		initialDelay:   opts.InitialDelay,
		runImmediately: opts.RunImmediately,
	}
}

// Skipped returns the number of ticks skipped because the previous run was still in progress.
func (pw *PeriodicWorker) Skipped() int64 {
	return pw.skipped.Load()
}

// Run runs PeriodicWorker loop. It returns after ctx is done (or ErrPeriodicWorkerStop is returned by the worker)
// and the in-progress run finishes.
func (pw *PeriodicWorker) Run(ctx context.Context) error {
	pw.logger.Infof("running periodic worker (initialDelay=%s, interval=%s)...", pw.initialDelay, pw.interval)

	runCtx, runCtxCancel := context.WithCancel(ctx)
	defer func() {
		runCtxCancel()
		pw.runs.Wait()
		pw.logger.Info("periodic worker stopped")
	}()

	if pw.initialDelay > 0 {
		timer := time.NewTimer(pw.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	stopped := make(chan struct{}, 1)
	if pw.runImmediately {
		pw.tick(runCtx, stopped)
	}

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopped:
			return nil
		case <-ticker.C:
			pw.tick(runCtx, stopped)
		}
	}
}

func (pw *PeriodicWorker) tick(ctx context.Context, stopped chan<- struct{}) {
	if !pw.busy.CompareAndSwap(false, true) {
		pw.skipped.Inc()
		pw.logger.Warn("previous run of periodic worker is still in progress, tick is skipped")
		return
	}
	pw.runs.Add(1)
	go func() {
		defer pw.runs.Done()
		defer pw.busy.Store(false)
		defer func() {
			if p := recover(); p != nil {
				const logStackSize = 8192
				stack := make([]byte, logStackSize)
				stack = stack[:runtime.Stack(stack, false)]
				pw.logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
				panic(p)
			}
		}()

		if err := pw.worker.Run(ctx); err != nil {
			if errors.Is(err, ErrPeriodicWorkerStop) {
				select {
				case stopped <- struct{}{}:
				default:
				}
				return
			}
			pw.logger.Error("periodically running worker finished with error", log.Error(err))
		}
	}()
}
