package sigslot

import (
	"runtime"
	"sync"
)

// goroutineID identifies a goroutine for thread-affinity purposes. Go has
// no public API for this, so it is parsed from the goroutine's stack trace
// header, the same technique the teacher's eventloop package uses for its
// own isLoopThread check.
type goroutineID = uint64

// currentGoroutineID returns the id of the calling goroutine.
func currentGoroutineID() goroutineID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const prefix = "goroutine "
	var id uint64
	for i := len(prefix); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// loopRegistry maps the goroutine id a Loop is running on to that Loop,
// the Go analogue of asyncio.get_running_loop(): a signal-aware object may
// only be constructed on a goroutine that is currently running a Loop.
var loopRegistry sync.Map // goroutineID -> *Loop

func registerLoop(id goroutineID, l *Loop) {
	loopRegistry.Store(id, l)
}

func unregisterLoop(id goroutineID) {
	loopRegistry.Delete(id)
}

// CurrentLoop returns the Loop running on the calling goroutine, if any.
func CurrentLoop() (*Loop, bool) {
	v, ok := loopRegistry.Load(currentGoroutineID())
	if !ok {
		return nil, false
	}
	return v.(*Loop), true
}
