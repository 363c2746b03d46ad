package sigslot

import "context"

// Slot wraps a synchronous method (or function) so that calling it through
// Call always respects the owner's affinity, per spec.md 4.D: called from
// inside an emission, or from the owner's own thread, it runs inline;
// called from any other goroutine, it is marshalled onto the owner's Loop
// and Call blocks until it has run, returning its result or re-raising its
// panic in the caller.
//
// A Slot's owner is lazily bound to the calling goroutine's current Loop
// on first use if it has no affinity yet (mirroring a bare @t_slot method
// on an object that was never itself wrapped with t_with_signals).
type Slot[T, R any] struct {
	owner *Base
	fn    func(T) R
	name  string
}

// NewSlot constructs a Slot bound to owner, wrapping fn.
func NewSlot[T, R any](owner *Base, fn func(T) R) *Slot[T, R] {
	return &Slot[T, R]{owner: owner, fn: fn, name: funcName(fn)}
}

// Call invokes the wrapped function with v, per the affinity rules above.
// The zero value of R is returned alongside a non-nil error if the call
// could not be marshalled (e.g. ErrNoLoop).
func (s *Slot[T, R]) Call(v T) (R, error) {
	if inEmission() || s.owner.isOwnerThread() {
		return s.fn(v), nil
	}
	if err := s.owner.bindLazily(); err != nil {
		var zero R
		return zero, err
	}
	if s.owner.isOwnerThread() {
		return s.fn(v), nil
	}

	loop, ok := s.owner.Loop()
	if !ok || loop == nil {
		var zero R
		return zero, ErrNoLoop
	}

	type outcome struct {
		result R
		panic  any
	}
	reply := make(chan outcome, 1)
	if err := loop.Submit(func() {
		var o outcome
		func() {
			defer func() { o.panic = recover() }()
			o.result = s.fn(v)
		}()
		reply <- o
	}); err != nil {
		var zero R
		return zero, err
	}
	o := <-reply
	if o.panic != nil {
		panic(o.panic)
	}
	return o.result, nil
}

// AsyncSlot is the suspending counterpart of Slot: the wrapped function
// takes a context.Context and may run for a while. Call schedules it on
// the owner's Loop via SpawnTask (so it runs concurrently with the Loop's
// other queued jobs rather than serializing behind them) and blocks until
// it completes or ctx is cancelled.
type AsyncSlot[T, R any] struct {
	owner *Base
	fn    func(context.Context, T) (R, error)
	name  string
}

// NewAsyncSlot constructs an AsyncSlot bound to owner, wrapping fn.
func NewAsyncSlot[T, R any](owner *Base, fn func(context.Context, T) (R, error)) *AsyncSlot[T, R] {
	return &AsyncSlot[T, R]{owner: owner, fn: fn, name: funcName(fn)}
}

// Call invokes the wrapped function with ctx and v. If the calling
// goroutine is already inside an emission or is the owner's thread, it
// still runs the function inline (a suspending slot has no blocking-marshal
// avoidance to offer, since it already accepts a context): the caller is
// responsible for not treating this as fire-and-forget.
func (s *AsyncSlot[T, R]) Call(ctx context.Context, v T) (R, error) {
	if inEmission() || s.owner.isOwnerThread() {
		return s.fn(ctx, v)
	}
	if err := s.owner.bindLazily(); err != nil {
		var zero R
		return zero, err
	}

	loop, ok := s.owner.Loop()
	if !ok || loop == nil {
		var zero R
		return zero, ErrNoLoop
	}

	type outcome struct {
		result R
		err    error
		panic  any
	}
	reply := make(chan outcome, 1)
	loop.SpawnTask(func() {
		var o outcome
		func() {
			defer func() { o.panic = recover() }()
			o.result, o.err = s.fn(ctx, v)
		}()
		reply <- o
	})

	select {
	case o := <-reply:
		if o.panic != nil {
			panic(o.panic)
		}
		return o.result, o.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
