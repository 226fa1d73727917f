package futuremsg

import (
	"context"
)

// Ack confirms that a command was durably recorded and applied.
type Ack struct {
	ID   string
	Kind CommandKind
}

// Caller is the party a command came from. Acknowledgement strategies use it
// to reply.
type Caller interface {
	Tell(ctx context.Context, from string, cmd Command)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, from string, cmd Command)

func (f CallerFunc) Tell(ctx context.Context, from string, cmd Command) {
	f(ctx, from, cmd)
}

// AckStrategy is told about every applied command, including replayed ones.
// caller is nil during replay.
type AckStrategy interface {
	OnAcknowledge(ctx context.Context, ack Ack, cmd Command, caller Caller, replaying bool)
	OnAcknowledgeFailed(ctx context.Context, err error, cmd Command, caller Caller, replaying bool)
}

// NoopAck ignores acknowledgements.
type NoopAck struct{}

func (NoopAck) OnAcknowledge(context.Context, Ack, Command, Caller, bool)         {}
func (NoopAck) OnAcknowledgeFailed(context.Context, error, Command, Caller, bool) {}

// PassthroughAck sends the acknowledged command back to its caller, from the
// scheduler named From. Failures are not reported to the caller.
type PassthroughAck struct {
	From string

	// SuppressReplay skips replies for replayed commands.
	SuppressReplay bool
}

func (p PassthroughAck) OnAcknowledge(ctx context.Context, _ Ack, cmd Command, caller Caller, replaying bool) {
	if caller == nil || (replaying && p.SuppressReplay) {
		return
	}
	caller.Tell(ctx, p.From, cmd)
}

func (PassthroughAck) OnAcknowledgeFailed(context.Context, error, Command, Caller, bool) {}

var (
	_ AckStrategy = NoopAck{}
	_ AckStrategy = PassthroughAck{}
)
