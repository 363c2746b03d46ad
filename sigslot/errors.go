package sigslot

import "errors"

// Sentinel errors forming the taxonomy visible at the package boundary.
var (
	// ErrNullReceiver is returned by Connect when a two-argument connection
	// is attempted with a nil receiver.
	ErrNullReceiver = errors.New("sigslot: receiver must not be nil")

	// ErrNilSlot is returned by Connect when the slot is a nil function
	// value. Go's type system rejects non-callables at compile time, so
	// this is the runtime analogue of the source's "not callable" error.
	ErrNilSlot = errors.New("sigslot: slot must not be nil")

	// ErrInvalidConnectionKind is returned by Connect when kind is not one
	// of Direct, Queued, or Auto.
	ErrInvalidConnectionKind = errors.New("sigslot: invalid connection kind")

	// ErrNoLoop is returned when an operation requires a Loop running on
	// the calling goroutine (or a receiver's owner loop) and none is found.
	ErrNoLoop = errors.New("sigslot: no loop is running on the current goroutine")

	// ErrWorkerNotStarted is returned by MoveToThread when the worker has
	// no running loop.
	ErrWorkerNotStarted = errors.New("sigslot: worker has no running loop")

	// ErrAlreadyStarted is returned by Worker.Start when the worker is not
	// in the Stopped state.
	ErrAlreadyStarted = errors.New("sigslot: worker already started")

	// ErrIncompatibleTarget is returned by MoveToThread when the target
	// lacks affinity fields, or the call is made from within a slot
	// executing on the target's current loop goroutine.
	ErrIncompatibleTarget = errors.New("sigslot: incompatible move_to_thread target")

	// ErrLoopAlreadyRunning is returned by Loop.Run when the loop is
	// already running.
	ErrLoopAlreadyRunning = errors.New("sigslot: loop is already running")

	// ErrLoopNotRunning is returned by Loop.Submit/SpawnTask when the loop
	// is not currently running.
	ErrLoopNotRunning = errors.New("sigslot: loop is not running")
)
