package sigslot

import (
	"context"
	"sync"
	"sync/atomic"
)

// loopState models a Loop's run state.
type loopState int32

const (
	loopStopped loopState = iota
	loopRunning
)

// LoopOption configures a Loop constructed with NewLoop.
type LoopOption func(*Loop)

// WithLoopLogger sets the Logger a Loop uses to report panics recovered
// from submitted jobs and spawned tasks.
func WithLoopLogger(logger *Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// Loop is a cooperative scheduler bound to exactly one goroutine: the one
// that calls Run. It accepts closures from other goroutines via Submit,
// executing them, in submission order, on its own goroutine - the Go
// realization of the "dedicated goroutine acting as the object's loop"
// design note. It also offers SpawnTask, for cooperatively-suspending work
// that must run concurrently with (rather than serialized behind) the
// loop's own job queue, while still being tracked for graceful shutdown.
//
// The job queue itself uses the same technique the teacher's eventloop
// package documents as its "GOJA-STYLE QUEUE": producers append under a
// mutex; the consumer (Run's goroutine) swaps the slice for an empty spare
// buffer and processes the batch without holding the lock.
type Loop struct {
	mu    sync.Mutex
	jobs  []func()
	spare []func()

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state       atomic.Int32
	goroutineID atomic.Uint64

	tasks sync.WaitGroup

	logger *Logger
}

// NewLoop constructs a Loop in the Stopped state. Call Run to start it.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// IsRunning reports whether the loop is currently executing Run.
func (l *Loop) IsRunning() bool {
	return loopState(l.state.Load()) == loopRunning
}

// Run executes the loop on the calling goroutine until ctx is cancelled or
// Stop is called, draining submitted jobs as they arrive. It registers
// itself as the "current loop" of the calling goroutine for the duration,
// so that NewBase (called from within a submitted job or from the initial
// caller of Run, before it blocks) can find it via CurrentLoop.
//
// Run returns ErrLoopAlreadyRunning if called while already running, and
// must not be called again after it returns without constructing a new
// Loop (a Loop runs at most once).
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(loopStopped), int32(loopRunning)) {
		return ErrLoopAlreadyRunning
	}

	id := currentGoroutineID()
	l.goroutineID.Store(id)
	registerLoop(id, l)
	defer unregisterLoop(id)
	defer close(l.done)
	defer l.state.Store(int32(loopStopped))

	l.drain()
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.stop:
			l.drain()
			return nil
		case <-ctx.Done():
			l.drain()
			return ctx.Err()
		}
	}
}

// Stop requests the loop to return from Run after draining its currently
// queued jobs. It is safe to call multiple times and from any goroutine.
// It does not wait for spawned tasks (see SpawnTask) to complete; use
// GracefulShutdown for that.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done returns a channel closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// isLoopThread reports whether the calling goroutine is this Loop's own
// running goroutine.
func (l *Loop) isLoopThread() bool {
	id := l.goroutineID.Load()
	return id != 0 && id == currentGoroutineID()
}

// Submit enqueues fn to run on the loop's goroutine, in submission order
// relative to other Submit calls. It returns ErrLoopNotRunning if the loop
// isn't running. Submit never blocks waiting for fn to execute.
func (l *Loop) Submit(fn func()) error {
	if !l.IsRunning() {
		return ErrLoopNotRunning
	}
	l.mu.Lock()
	l.jobs = append(l.jobs, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// drain executes all jobs queued so far, on the calling (loop) goroutine,
// swapping buffers under the lock rather than holding it across execution.
// It loops until the queue is empty, so jobs submitted while draining (e.g.
// by a job that itself calls Submit) are also processed before returning.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.jobs) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.jobs
		l.jobs = l.spare[:0]
		l.spare = batch
		l.mu.Unlock()

		for _, job := range batch {
			l.safeExecute(job)
		}
	}
}

func (l *Loop) safeExecute(job func()) {
	defer func() {
		if r := recover(); r != nil {
			logSlotPanic(l.logger, `(submitted job)`, ``, Direct, r)
		}
	}()
	job()
}

// SpawnTask launches fn on a new goroutine, tracked by this Loop so that
// GracefulShutdown can wait for it to finish. It is the Go analogue of
// scheduling a coroutine task on the loop: unlike Submit, fn runs
// concurrently with the loop's own job queue rather than serialized behind
// it, which is required for long-running work such as a Worker's entry
// task and queue processor. A panic in fn is recovered and logged, never
// propagated to the spawning goroutine.
func (l *Loop) SpawnTask(fn func()) {
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				logSlotPanic(l.logger, `(spawned task)`, ``, Queued, r)
			}
		}()
		fn()
	}()
}

// wait blocks until all tasks spawned via SpawnTask have returned. Used by
// GracefulShutdown.
func (l *Loop) wait() {
	l.tasks.Wait()
}
