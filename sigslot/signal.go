package sigslot

import (
	"context"
	"sync"
)

// Signal is a typed broadcast point: any number of slots (sync or
// suspending, bound to a receiver or receiverless) can connect to it, and
// Emit dispatches a value of type T to each, per the kind rules in
// spec.md 4.C. T stands in for the source's dynamic *args/**kwargs slot
// signature - see SPEC_FULL.md's Data Model for the rationale.
//
// A Signal's zero value is not usable; construct with NewSignal.
type Signal[T any] struct {
	mu          sync.Mutex
	owner       *Base
	connections []connection[T]
	logger      *Logger
}

// NewSignal constructs a Signal owned by owner. owner may be nil for a
// free-standing signal not attached to any signal-aware object, in which
// case Auto-kind connections are always resolved to Direct (the effective
// kind rule requires both the receiver and the signal's owner to carry
// affinity).
func NewSignal[T any](owner *Base) *Signal[T] {
	return &Signal[T]{owner: owner}
}

// SetLogger installs the Logger used to report panics recovered from slots
// and connections skipped for lack of a target loop.
func (s *Signal[T]) SetLogger(logger *Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Connect adds a synchronous, receiver-bound slot. receiver must be
// non-nil (ErrNullReceiver) and slot must be a non-nil func value
// (ErrNilSlot).
func (s *Signal[T]) Connect(receiver *Base, slot func(T), kind ConnectionKind) error {
	if receiver == nil {
		return ErrNullReceiver
	}
	return s.connect(receiver, slot, nil, false, kind)
}

// ConnectFunc adds a synchronous, receiverless slot - the Go realization of
// connecting a free function, for which the source's bound-method
// detection does not apply.
func (s *Signal[T]) ConnectFunc(slot func(T), kind ConnectionKind) error {
	return s.connect(nil, slot, nil, false, kind)
}

// ConnectAsync adds a suspending, receiver-bound slot, always dispatched
// Queued regardless of kind (spec.md 4.C: suspending slots are never
// Direct).
func (s *Signal[T]) ConnectAsync(receiver *Base, slot func(context.Context, T), kind ConnectionKind) error {
	if receiver == nil {
		return ErrNullReceiver
	}
	return s.connect(receiver, nil, slot, true, kind)
}

// ConnectAsyncFunc adds a suspending, receiverless slot.
func (s *Signal[T]) ConnectAsyncFunc(slot func(context.Context, T), kind ConnectionKind) error {
	return s.connect(nil, nil, slot, true, kind)
}

func (s *Signal[T]) connect(receiver *Base, call func(T), callAsync func(context.Context, T), suspending bool, kind ConnectionKind) error {
	if !kind.valid() {
		return ErrInvalidConnectionKind
	}
	var identity uintptr
	var name string
	if suspending {
		if isNilFunc(callAsync) {
			return ErrNilSlot
		}
		identity, name = funcIdentity(callAsync), funcName(callAsync)
	} else {
		if isNilFunc(call) {
			return ErrNilSlot
		}
		identity, name = funcIdentity(call), funcName(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, connection[T]{
		receiver:   receiver,
		call:       call,
		callAsync:  callAsync,
		kind:       kind,
		suspending: suspending,
		identity:   identity,
		slotName:   name,
	})
	return nil
}

// Disconnect removes connections matching receiver and/or slot. A nil
// receiver matches connections of any receiver; a nil slot matches any
// slot function. Passing both nil disconnects every connection. It
// returns the number of connections removed.
func (s *Signal[T]) Disconnect(receiver *Base, slot any) int {
	var identity uintptr
	haveSlot := slot != nil && !isNilFunc(slot)
	if haveSlot {
		identity = funcIdentity(slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.connections[:0]
	removed := 0
	for _, c := range s.connections {
		if c.matchesDisconnect(receiver, identity, haveSlot) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.connections = kept
	return removed
}

// Emit dispatches v to every connected slot, per each connection's
// effective kind. Direct slots run synchronously, inline, on the calling
// goroutine, in connection order, wrapped so a panic is recovered and
// logged rather than propagated (spec.md 4.C/7: one bad slot never aborts
// the emission or the emitter). Queued slots are posted to their target
// Loop and do not block Emit's return.
//
// Emit marks the calling goroutine as "in emission" for its duration, so
// that a slot re-entrantly invoked through a Slot adapter (slot.go) can
// detect it is already running inline and skip marshalling.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	conns := make([]connection[T], len(s.connections))
	copy(conns, s.connections)
	logger := s.logger
	owner := s.owner
	s.mu.Unlock()

	withEmission(func() {
		for _, c := range conns {
			kind := c.kind
			if kind == Auto {
				kind = effectiveKind(c.receiver, c.suspending, owner)
			}
			switch kind {
			case Direct:
				dispatchDirect(logger, c, v)
			default:
				dispatchQueued(logger, c, v)
			}
		}
	})
}

// effectiveKind implements spec.md 4.C's Auto resolution: suspending slots
// are always Queued; otherwise Direct unless both the receiver and the
// signal's owner carry affinity and their tokens differ, in which case
// Queued.
func effectiveKind(receiver *Base, suspending bool, owner *Base) ConnectionKind {
	if suspending {
		return Queued
	}
	if receiver == nil || owner == nil {
		return Direct
	}
	rt, rok := receiver.AffinityToken()
	ot, ook := owner.AffinityToken()
	if rok && ook && rt != ot {
		return Queued
	}
	return Direct
}

func dispatchDirect[T any](logger *Logger, c connection[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			logSlotPanic(logger, c.slotName, receiverTypeName(c.receiver), Direct, r)
		}
	}()
	if c.suspending {
		c.callAsync(context.Background(), v)
		return
	}
	c.call(v)
}

// dispatchQueued posts the slot invocation to its target Loop. The target
// is the receiver's Loop if the connection is receiver-bound, else the
// currently running Loop on the emitting goroutine. If no target Loop can
// be found, the connection is logged and skipped: spec.md's source, in
// raising a "no running loop" error from inside its own per-connection
// exception handler, ends up only ever logging it too (see DESIGN.md).
func dispatchQueued[T any](logger *Logger, c connection[T], v T) {
	var loop *Loop
	if c.receiver != nil {
		loop, _ = c.receiver.Loop()
	} else {
		loop, _ = CurrentLoop()
	}
	if loop == nil {
		logQueuedSkip(logger, c.slotName, receiverTypeName(c.receiver), `no target loop for queued connection`)
		return
	}

	if !c.suspending {
		if err := loop.Submit(func() {
			c.call(v)
		}); err != nil {
			logQueuedTaskError(logger, c.slotName, err)
		}
		return
	}

	// Suspending slots are scheduled via Submit (so scheduling order
	// matches Direct's connection order) but actually executed via
	// SpawnTask, so a long-running slot doesn't block the loop's other
	// queued jobs - mirroring the source's create_task-from-within-the-
	// loop behaviour.
	if err := loop.Submit(func() {
		loop.SpawnTask(func() {
			c.callAsync(context.Background(), v)
		})
	}); err != nil {
		logQueuedTaskError(logger, c.slotName, err)
	}
}

func receiverTypeName(receiver *Base) string {
	if receiver == nil {
		return ""
	}
	return receiver.ownerTypeName()
}
