package sigslot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// workerState is a Worker's lifecycle state machine, per spec.md 4.E.
type workerState int32

const (
	workerStopped workerState = iota
	workerStarting
	workerRunning
	workerStopping
)

// queuedTask is one task submitted via Worker.QueueTask.
type queuedTask struct {
	fn func(context.Context) error
}

// Worker is a signal-aware object that additionally owns a dedicated
// goroutine running its own Loop, a background task queue processed
// sequentially by that goroutine, and Started/Stopped lifecycle signals.
// It is the Go realization of the source's WithWorker mixin (the run +
// start_queue variant; see DESIGN.md's Open Questions resolution).
//
// Worker's zero value is not usable; construct with NewWorker.
type Worker struct {
	base *Base

	Started *Signal[struct{}]
	Stopped *Signal[struct{}]

	lifecycleMu sync.Mutex
	state       workerState
	loop        *Loop
	group       *errgroup.Group
	stopping    chan struct{}
	stopOnce    *sync.Once
	queue       chan queuedTask
	runDone     chan struct{}

	joinTimeout time.Duration
	logger      *Logger
}

// WorkerOption configures a Worker constructed with NewWorker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the Logger a Worker uses for lifecycle and queued
// task diagnostics, and passes through to its Loop.
func WithWorkerLogger(logger *Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithJoinTimeout bounds how long Stop waits for the worker goroutine to
// exit before giving up and logging a warning (spec.md 4.E: "bounded
// wait, e.g., a few seconds"). The default is 5 seconds.
func WithJoinTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.joinTimeout = d }
}

// NewWorker constructs a Worker in the Stopped state.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{base: &Base{}, joinTimeout: 5 * time.Second}
	w.base.bindOwnerType(w)
	w.Started = NewSignal[struct{}](w.base)
	w.Stopped = NewSignal[struct{}](w.base)
	for _, o := range opts {
		o(w)
	}
	w.Started.SetLogger(w.logger)
	w.Stopped.SetLogger(w.logger)
	return w
}

// Base returns the affinity record owned by this Worker, so that
// additional signals/slots on a composing type can share its affinity.
func (w *Worker) Base() *Base { return w.base }

// defaultEntry is used when Start is given a nil run function: it starts
// the queue processor and waits for stopping, per spec.md 4.E.
func defaultEntry(ctx context.Context, w *Worker) error {
	w.StartQueue(ctx)
	<-w.stopping
	return nil
}

// Start transitions the worker from Stopped to Running: it spawns a
// dedicated goroutine that creates a new Loop, publishes it into the
// worker's affinity record, emits Started, and runs run (or defaultEntry,
// if nil) as a tracked task on that Loop. Start returns once the worker
// is observably running (or ctx is cancelled first); run itself continues
// in the background.
//
// Start returns ErrAlreadyStarted if the worker is not Stopped.
func (w *Worker) Start(ctx context.Context, run func(context.Context, *Worker) error) error {
	w.lifecycleMu.Lock()
	if w.state != workerStopped {
		w.lifecycleMu.Unlock()
		return ErrAlreadyStarted
	}
	w.state = workerStarting
	w.stopping = make(chan struct{})
	w.stopOnce = new(sync.Once)
	w.queue = make(chan queuedTask, 64)
	w.runDone = make(chan struct{})
	w.lifecycleMu.Unlock()

	if run == nil {
		run = defaultEntry
	}

	ready := make(chan struct{})
	go w.runLoop(run, ready)

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop is the body of the worker's dedicated goroutine. The entry task
// and the queue processor it starts run concurrently under one
// errgroup.Group sharing loopCtx, so that either returning an error
// cancels the other's context promptly - the "one cancellation scope" the
// shutdown ordering in spec.md 4.E relies on.
func (w *Worker) runLoop(run func(context.Context, *Worker) error, ready chan struct{}) {
	defer close(w.runDone)

	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := currentGoroutineID()
	loop := NewLoop(WithLoopLogger(w.logger))
	_ = w.base.moveTo(id, loop, id) // first bind: cannot fail, no prior loop to reject against

	g, gctx := errgroup.WithContext(loopCtx)

	w.lifecycleMu.Lock()
	w.loop = loop
	w.group = g
	w.state = workerRunning
	w.lifecycleMu.Unlock()

	w.Started.Emit(struct{}{})

	g.Go(func() error { return run(gctx, w) })

	go func() {
		if err := g.Wait(); err != nil {
			logQueuedTaskError(w.logger, `(worker entry task)`, err)
		}
		w.Stopped.Emit(struct{}{})
		loop.Stop()
	}()

	close(ready)
	_ = loop.Run(loopCtx)

	w.lifecycleMu.Lock()
	w.loop = nil
	w.group = nil
	w.state = workerStopped
	w.lifecycleMu.Unlock()
}

// StartQueue activates the background queue processor: a member of the
// same errgroup.Group as the entry task, sequentially running tasks
// submitted via QueueTask until the worker is stopping. It is safe to call
// at most once per Start/Stop cycle, from the entry task (spec.md 4.E's
// start_queue() helper).
func (w *Worker) StartQueue(ctx context.Context) {
	w.lifecycleMu.Lock()
	group := w.group
	stopping := w.stopping
	queue := w.queue
	w.lifecycleMu.Unlock()
	if group == nil {
		return
	}

	group.Go(func() error {
		for {
			select {
			case <-stopping:
				return nil
			case <-ctx.Done():
				return nil
			case t := <-queue:
				func() {
					defer func() {
						if r := recover(); r != nil {
							logSlotPanic(w.logger, `(queued task)`, `Worker`, Direct, r)
						}
					}()
					if err := t.fn(ctx); err != nil {
						logQueuedTaskError(w.logger, `(queued task)`, err)
					}
				}()
			}
		}
	})
}

// QueueTask enqueues task for sequential execution by the queue
// processor started via StartQueue. It returns ErrWorkerNotStarted if the
// worker isn't running, and ctx.Err() if ctx is cancelled before the task
// could be enqueued (the queue has bounded capacity).
func (w *Worker) QueueTask(ctx context.Context, task func(context.Context) error) error {
	w.lifecycleMu.Lock()
	running := w.state == workerRunning
	queue := w.queue
	w.lifecycleMu.Unlock()
	if !running {
		return ErrWorkerNotStarted
	}

	select {
	case queue <- queuedTask{fn: task}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sets stopping, which the entry task (and, via defaultEntry, the
// queue processor) observes cooperatively, then waits up to the
// configured join timeout for the worker goroutine to exit. It is
// idempotent: calling Stop on an already-stopped or not-yet-started
// worker is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.lifecycleMu.Lock()
	if w.state == workerStopped {
		w.lifecycleMu.Unlock()
		return nil
	}
	stopping := w.stopping
	stopOnce := w.stopOnce
	runDone := w.runDone
	w.state = workerStopping
	w.lifecycleMu.Unlock()

	stopOnce.Do(func() { close(stopping) })

	timeout := time.NewTimer(w.joinTimeout)
	defer timeout.Stop()
	select {
	case <-runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		logQueuedTaskError(w.logger, `(worker stop)`, fmt.Errorf(`worker goroutine did not stop within %s`, w.joinTimeout))
		return nil
	}
}

// MoveToThread copies this worker's (thread, loop, token) onto target,
// per spec.md 4.A/4.E. It fails with ErrWorkerNotStarted if the worker
// has no active loop, and with ErrIncompatibleTarget if target is nil
// or lacks affinity fields, or if called from a slot currently executing
// on the worker's own loop.
func (w *Worker) MoveToThread(target *Base) error {
	if target == nil {
		return ErrIncompatibleTarget
	}
	w.lifecycleMu.Lock()
	loop := w.loop
	w.lifecycleMu.Unlock()
	if loop == nil {
		return ErrWorkerNotStarted
	}
	thread, _ := w.base.Thread()
	token, _ := w.base.AffinityToken()
	return target.moveTo(thread, loop, token)
}
