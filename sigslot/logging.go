package sigslot

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// asError normalizes a recover()'d panic value into an error for logging.
func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// Logger is the structured logging facade used throughout this package,
// mirroring the field type used by sql/export.Exporter.Logger elsewhere in
// this repo. A nil *Logger is always safe to call: logiface.Logger's
// Build/Log methods short-circuit on a nil or unconfigured receiver.
type Logger = logiface.Logger[logiface.Event]

// NewDefaultLogger returns a Logger backed by stumpy, the teacher pack's
// zero-allocation logiface backend, writing to os.Stderr at informational
// level. Callers wanting zerolog/logrus/slog output instead may build their
// own *Logger using the corresponding logiface adapter package and its
// Logger() conversion method; nothing else in this package depends on
// stumpy specifically.
func NewDefaultLogger() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(logiface.LevelInformational),
	).Logger()
}

// logSlotPanic logs a recovered panic from a direct-dispatched slot,
// without aborting emission of the remaining connections (spec: emit-time
// errors are caught, logged, and never silence the rest of the broadcast).
func logSlotPanic(logger *Logger, slotName, receiverType string, kind ConnectionKind, r any) {
	logger.Err().
		Err(asError(r)).
		Str(`slot`, slotName).
		Str(`receiver_type`, receiverType).
		Str(`connection_kind`, kind.String()).
		Log(`sigslot: panic recovered from direct-dispatched slot`)
}

// logQueuedSkip logs a queued connection that could not be delivered this
// emission (receiver loop absent or not running).
func logQueuedSkip(logger *Logger, slotName, receiverType string, reason string) {
	logger.Warning().
		Str(`slot`, slotName).
		Str(`receiver_type`, receiverType).
		Str(`reason`, reason).
		Log(`sigslot: skipped queued connection for this emission`)
}

// logQueuedTaskError logs an error/panic from a queued (asynchronously
// dispatched) slot or worker task, which is caught by the target loop and
// never propagated to the emitter.
func logQueuedTaskError(logger *Logger, slotName string, err error) {
	logger.Err().
		Err(err).
		Str(`slot`, slotName).
		Log(`sigslot: error in queued dispatch`)
}
