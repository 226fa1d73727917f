package futuremsg

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/futuremsg/transport"
)

// Scheduler errors.
// Use errors.Is() to check for these errors as they may be wrapped with additional context.
var (
	// ErrNotStarted is returned for commands submitted before Start.
	ErrNotStarted = errors.New("futuremsg: not started")

	// ErrStopped is returned for commands submitted after Stop, and for
	// commands still queued when Stop was called.
	ErrStopped = errors.New("futuremsg: stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("futuremsg: already started")

	// ErrInvalidCommand is returned for a command of an unknown type or with
	// missing required fields.
	ErrInvalidCommand = errors.New("futuremsg: invalid command")

	// ErrQueueFull is returned by a fixed-capacity manager when a Schedule
	// does not fit.
	ErrQueueFull = errors.New("futuremsg: queue full")

	// ErrRecoveryInconsistency is returned by Start when the stored snapshot
	// and journal do not describe a consistent state.
	ErrRecoveryInconsistency = errors.New("futuremsg: recovery inconsistency")
)

// PersistenceError reports a failed journal append or snapshot save.
type PersistenceError struct {
	// Op is "append", "snapshot" or "replay".
	Op  string
	Seq uint64
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("futuremsg: %s at sequence %d: %v", e.Op, e.Seq, e.Err)
	}
	return fmt.Sprintf("futuremsg: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceFailure checks if an error reports a storage failure.
func IsPersistenceFailure(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func invalidCommand(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// DeliveryError reports a message the transport did not accept. It is passed
// to the error handler; the message is not retried.
type DeliveryError struct {
	ID          string
	Destination string
	Message     transport.Message
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("futuremsg: deliver %s to %s: %v", e.ID, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
