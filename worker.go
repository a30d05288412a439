package repbot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
)

const workerQueueSize = 64

// Job is one piece of work against the hardware.
type Job func(hw drivers.Hardware) error

type Priority int

const (
	PriorityCommand Priority = iota
	PriorityTelemetry
)

type job struct {
	ctx    context.Context
	fn     Job
	result chan error
}

// Worker is the only goroutine touching the hardware. Command jobs are
// always taken before telemetry jobs.
type Worker struct {
	hw      drivers.Hardware
	timeout time.Duration
	logger  *log.Logger

	commands  chan *job
	telemetry chan *job
	done      chan struct{}

	busy     atomic.Bool
	running  atomic.Bool
	timeouts atomic.Uint64
}

func NewWorker(hw drivers.Hardware, timeout time.Duration, logger *log.Logger) *Worker {
	return &Worker{
		hw:        hw,
		timeout:   timeout,
		logger:    logger,
		commands:  make(chan *job, workerQueueSize),
		telemetry: make(chan *job, workerQueueSize),
		done:      make(chan struct{}),
	}
}

// Run processes jobs until ctx is done. Jobs still queued then fail with
// ErrWorkerStopped.
func (w *Worker) Run(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	defer w.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.commands:
			w.run(j)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-w.commands:
			w.run(j)
		case j := <-w.telemetry:
			w.run(j)
		}
	}
}

func (w *Worker) drain() {
	close(w.done)
	for {
		select {
		case j := <-w.commands:
			j.result <- ErrWorkerStopped
		case j := <-w.telemetry:
			j.result <- ErrWorkerStopped
		default:
			return
		}
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Do queues fn and waits for its outcome. When ctx ends first the job may
// still run later; its result is dropped.
func (w *Worker) Do(ctx context.Context, prio Priority, fn Job) error {
	j := &job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	queue := w.commands
	if prio == PriorityTelemetry {
		queue = w.telemetry
	}

	select {
	case queue <- j:
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		select {
		case err := <-j.result:
			return err
		default:
			return ErrWorkerStopped
		}
	}
}

func (w *Worker) run(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- err
		return
	}
	j.result <- w.call(j.fn)
}

func (w *Worker) safeCall(fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("hardware call panicked: %v", r)
		}
	}()
	return fn(w.hw)
}

// call runs fn under the timeout policy. A call that overruns is left
// running and no other call starts until it returns.
func (w *Worker) call(fn Job) error {
	if w.busy.Load() {
		return ErrHardwareBusy
	}
	if w.timeout <= 0 {
		return w.safeCall(fn)
	}

	finished := make(chan error, 1)
	go func() {
		finished <- w.safeCall(fn)
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case err := <-finished:
		return err
	case <-timer.C:
		w.busy.Store(true)
		w.timeouts.Add(1)
		w.logger.Warn("hardware call exceeded timeout, hardware blocked until it returns", "timeout", w.timeout)
		go func() {
			err := <-finished
			w.busy.Store(false)
			w.logger.Info("abandoned hardware call returned", "err", err)
		}()
		return errors.Wrapf(ErrHardwareTimeout, "after %s", w.timeout)
	}
}

// Busy reports whether an abandoned hardware call is still running.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

func (w *Worker) Timeouts() uint64 {
	return w.timeouts.Load()
}
