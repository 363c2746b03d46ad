package sigslot

import "context"

// GracefulShutdown blocks until every task spawned on loop via
// Loop.SpawnTask (suspending slot dispatches, a Worker's entry task and
// queue processor) has returned, or ctx is cancelled first. It is the Go
// realization of the source's graceful_shutdown() helper: "yields until
// no tasks other than itself remain on the current loop".
//
// GracefulShutdown does not itself stop loop; callers typically call
// Loop.Stop (or Worker.Stop) first, then GracefulShutdown to wait out any
// still-running spawned tasks before tearing down surrounding state.
func GracefulShutdown(ctx context.Context, loop *Loop) error {
	done := make(chan struct{})
	go func() {
		loop.wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
