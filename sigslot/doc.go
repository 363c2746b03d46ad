// Package sigslot implements a signal/slot dispatch runtime for decoupled,
// event-driven communication between objects.
//
// It supports mixing synchronous callbacks, cooperatively-suspending
// callbacks, and callbacks bound to a specific goroutine's cooperative
// scheduler (its "loop"). A [Signal] holds an ordered list of connections
// and, on [Signal.Emit], chooses per-connection between immediate invocation
// and cross-goroutine queued dispatch based on the thread-affinity of the
// emitting signal's owner and the connection's receiver.
//
// Every signal-aware type embeds [Base], which records the goroutine and
// [Loop] that owns it. A [Worker] is a signal-aware type that additionally
// owns a dedicated goroutine running its own [Loop], a background task
// queue, and started/stopped lifecycle signals; [Worker.MoveToThread] can
// re-affine another [Base] onto it.
//
// There is no distributed signalling, no persistence of connections, and no
// automatic disconnection when a receiver becomes unreachable: connections
// are strong references until explicitly disconnected.
package sigslot
