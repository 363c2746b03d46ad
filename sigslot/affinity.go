package sigslot

import (
	"reflect"
	"sync"
)

// Token is the opaque affinity identity compared by Signal.Emit's Auto
// dispatch rule. Two objects sharing the same Token are co-located for
// dispatch purposes. Per the resolution recorded in DESIGN.md, a Token is
// always equal to its owner's goroutine id: this is the simplest rule that
// satisfies both the "fresh object's token is its own identity" invariant
// and same-thread Direct dispatch (objects sharing a loop goroutine get
// equal tokens without any separate co-location registry).
type Token = goroutineID

// Base is the affinity record every signal-aware type embeds: the
// goroutine and Loop that own it, and its dispatch Token. It is the
// explicit, composed stand-in for the source's per-instance
// "_tsignal_thread"/"_tsignal_loop"/"_tsignal_affinity" attributes.
//
// Base's zero value has no affinity fields set; NewBase (or a Worker's
// Start) populates them. A Base may also be left zero-valued and lazily
// bound on first use by a Slot (see slot.go), matching spec.md 4.D.
type Base struct {
	mu        sync.Mutex
	thread    goroutineID
	loop      *Loop
	token     Token
	bound     bool
	ownerType string
}

// NewBase constructs a Base bound to the calling goroutine and its
// currently-running Loop. It fails with ErrNoLoop if no Loop is running on
// the calling goroutine: constructing a signal-aware object outside a loop
// is a user error, by design (spec.md 4.A).
//
// owner, if given, is the concrete signal-aware value composing this Base
// (e.g. a *Worker, or a user's receiver struct); its dynamic type is
// captured via reflect.TypeOf and later surfaced as the "receiver_type"
// field in diagnostic logs (spec.md 7). Omit it to construct a bare,
// unlabeled Base.
func NewBase(owner ...any) (*Base, error) {
	loop, ok := CurrentLoop()
	if !ok {
		return nil, ErrNoLoop
	}
	id := currentGoroutineID()
	b := &Base{thread: id, loop: loop, token: id, bound: true}
	if len(owner) > 0 {
		b.bindOwnerType(owner[0])
	}
	return b, nil
}

// bindOwnerType records owner's concrete type for diagnostics. Safe to
// call at any point in Base's lifecycle, including before affinity is
// bound (e.g. a Worker's Base exists before its loop starts).
func (b *Base) bindOwnerType(owner any) {
	if owner == nil {
		return
	}
	t := reflect.TypeOf(owner).String()
	b.mu.Lock()
	b.ownerType = t
	b.mu.Unlock()
}

// ownerTypeName returns a human-readable label for the concrete type that
// owns this Base, captured via bindOwnerType (from NewBase or explicitly),
// for the "receiver_type" field in diagnostic logs. Falls back to "Base"
// if no owner type was ever captured.
func (b *Base) ownerTypeName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ownerType == "" {
		return "Base"
	}
	return b.ownerType
}

// hasAffinity reports whether thread/loop/token have been set, either by
// NewBase or by lazy initialization in a Slot's first direct call.
func (b *Base) hasAffinity() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

// Thread returns the owning goroutine id, and whether affinity is set.
func (b *Base) Thread() (goroutineID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.thread, b.bound
}

// Loop returns the owning Loop, and whether affinity is set.
func (b *Base) Loop() (*Loop, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loop, b.bound
}

// AffinityToken returns the dispatch token, and whether affinity is set.
func (b *Base) AffinityToken() (Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token, b.bound
}

// isOwnerThread reports whether the calling goroutine is this Base's owner
// thread. If affinity is unset, it is never the owner thread.
func (b *Base) isOwnerThread() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound && b.thread == currentGoroutineID()
}

// bindLazily sets affinity fields to the current goroutine/loop if unset,
// used by Slot on its first direct invocation (spec.md 4.D). Returns
// ErrNoLoop if unset and no loop is running on the current goroutine.
func (b *Base) bindLazily() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound {
		return nil
	}
	loop, ok := CurrentLoop()
	if !ok {
		return ErrNoLoop
	}
	id := currentGoroutineID()
	b.thread, b.loop, b.token, b.bound = id, loop, id, true
	return nil
}

// moveTo overwrites this Base's affinity fields, used by
// Worker.MoveToThread. It fails with ErrIncompatibleTarget if the calling
// goroutine is currently executing on this Base's own (pre-move) loop.
func (b *Base) moveTo(thread goroutineID, loop *Loop, token Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound && b.loop != nil && b.loop.isLoopThread() {
		return ErrIncompatibleTarget
	}
	b.thread, b.loop, b.token, b.bound = thread, loop, token, true
	return nil
}
