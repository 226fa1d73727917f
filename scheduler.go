package futuremsg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/internal/mailbox"
	"github.com/rbaliyan/futuremsg/journal"
	"github.com/rbaliyan/futuremsg/snapshot"
	"github.com/rbaliyan/futuremsg/transport"
	"github.com/rbaliyan/futuremsg/transport/channel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of a Scheduler.
type Status int32

const (
	StatusNew Status = iota
	StatusRecovering
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusRecovering:
		return "recovering"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Scheduler makes scheduling commands durable before applying them.
//
// Each command is appended to the journal and, once the append returns,
// applied to the Manager that owns the pending queue. On Start the scheduler
// rebuilds the queue from the latest snapshot plus the journal records after
// it. Commands are processed one at a time in arrival order by a single
// worker goroutine.
type Scheduler struct {
	name     string
	opts     *Options
	codec    codec.Codec
	snapshot SnapshotStrategy
	ack      AckStrategy
	manager  *Manager
	metrics  *metrics
	logger   *slog.Logger

	status atomic.Int32
	mb     *mailbox.Mailbox[*submission]
	done   chan struct{}
	stop   sync.Once

	// owned by the worker goroutine
	awaitingDump bool
	dump         <-chan managerResponse
	stash        []*submission
}

type submission struct {
	ctx     context.Context
	cmd     Command
	caller  Caller
	span    trace.Span
	pending *Pending
}

// Pending is the result of a submitted command.
type Pending struct {
	done chan struct{}
	ack  Ack
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(ack Ack, err error) {
	p.ack, p.err = ack, err
	close(p.done)
}

// Done is closed once the command has been applied or has failed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the command has been applied or has failed.
func (p *Pending) Wait(ctx context.Context) (Ack, error) {
	select {
	case <-p.done:
		return p.ack, p.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// SubmitOption configures a single submission.
type SubmitOption func(*submission)

// WithCaller sets who the acknowledgement strategy replies to.
func WithCaller(c Caller) SubmitOption {
	return func(s *submission) {
		s.caller = c
	}
}

// New creates a scheduler. name identifies its persisted state and is the
// source address of delivered messages and acknowledgements.
//
// Example:
//
//	j, _ := journal.OpenBadger(dir, "billing")
//	s, err := futuremsg.New("billing", futuremsg.WithJournal(j))
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop(ctx)
//
//	id, err := s.ScheduleAfter(ctx, "invoices", payload, nil, time.Hour)
func New(name string, opts ...Option) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("futuremsg: scheduler name is required")
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("futuremsg: invalid settings: %w", err)
	}
	if o.Journal == nil {
		o.Journal = journal.NewMemory()
	}
	if o.Snapshots == nil {
		o.Snapshots = snapshot.NewMemory()
	}
	if o.Transport == nil {
		o.Transport = channel.New()
	}
	base := o.Logger
	if base == nil {
		base = slog.Default()
	}
	base = base.With("scheduler", name)

	s := &Scheduler{
		name:    name,
		opts:    o,
		codec:   o.Codec,
		metrics: newMetrics(name),
		logger:  base.With("component", "futuremsg.scheduler"),
		mb:      mailbox.New[*submission](),
		done:    make(chan struct{}),
	}

	var err error
	if s.codec == nil {
		if s.codec, err = codec.Lookup(o.Settings.Codec); err != nil {
			return nil, err
		}
	}
	if s.snapshot = o.SnapshotStrategy; s.snapshot == nil {
		if s.snapshot, err = NewSnapshotStrategy(o.Settings, name); err != nil {
			return nil, err
		}
	}
	if s.ack = o.AckStrategy; s.ack == nil {
		if s.ack, err = NewAckStrategy(o.Settings, name); err != nil {
			return nil, err
		}
	}

	capacity := o.Settings.DefaultQueueSize
	if o.FixedCapacity > 0 {
		capacity = o.FixedCapacity
	}
	s.manager = NewManager(o.Transport, ManagerConfig{
		Source:          name,
		Capacity:        capacity,
		Fixed:           o.FixedCapacity > 0,
		FireEpsilon:     o.Settings.FireEpsilon,
		DeliveryTimeout: o.Settings.DeliveryTimeout,
		Logger:          base.With("component", "futuremsg.manager"),
		ErrorHandler:    o.ErrorHandler,
		metrics:         s.metrics,
	})
	return s, nil
}

// Name returns the scheduler's persistence identity.
func (s *Scheduler) Name() string {
	return s.name
}

// Status returns the lifecycle state.
func (s *Scheduler) Status() Status {
	return Status(s.status.Load())
}

// Manager returns the queue owner, for inspection.
func (s *Scheduler) Manager() *Manager {
	return s.manager
}

// Start recovers the pending queue and begins accepting commands. A failed
// recovery leaves the scheduler stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(StatusNew), int32(StatusRecovering)) {
		if s.Status() == StatusStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}

	start := time.Now()
	recovered, err := s.recover(ctx)
	if err != nil {
		s.logger.Error("recovery failed", "error", err)
		s.Stop(ctx)
		return err
	}
	if !s.status.CompareAndSwap(int32(StatusRecovering), int32(StatusRunning)) {
		return ErrStopped
	}
	if err := s.manager.Start(); err != nil {
		return err
	}
	go s.run()

	s.logger.Info("scheduler started", "recovered", recovered, "duration", time.Since(start))
	return nil
}

// recover loads the latest snapshot and replays the journal after it.
func (s *Scheduler) recover(ctx context.Context) (int, error) {
	snap, err := s.opts.Snapshots.LoadLatest(ctx, 0)
	if err != nil {
		return 0, &PersistenceError{Op: "load snapshot", Err: err}
	}

	var from uint64 = 1
	if snap != nil {
		msgs, err := DecodeMessages(s.codec, snap.Data)
		if err != nil {
			return 0, &PersistenceError{Op: "load snapshot", Seq: snap.Sequence, Err: err}
		}
		if len(msgs) != snap.Count {
			return 0, fmt.Errorf("%w: snapshot %d declares %d messages, holds %d",
				ErrRecoveryInconsistency, snap.Sequence, snap.Count, len(msgs))
		}
		if s.opts.FixedCapacity > 0 && len(msgs) > s.opts.FixedCapacity {
			return 0, fmt.Errorf("%w: snapshot %d holds %d messages, capacity is %d",
				ErrRecoveryInconsistency, snap.Sequence, len(msgs), s.opts.FixedCapacity)
		}
		for _, msg := range msgs {
			cmd := msg.schedule()
			ack, err := s.manager.restore(ctx, cmd)
			if err != nil {
				return 0, fmt.Errorf("%w: restore %s: %v", ErrRecoveryInconsistency, msg.ID, err)
			}
			s.ack.OnAcknowledge(ctx, ack, cmd, nil, true)
		}
		from = snap.Sequence + 1
		s.logger.Info("snapshot loaded", "sequence", snap.Sequence, "messages", len(msgs))
	}

	last, err := s.opts.Journal.LastSequence(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "replay", Err: err}
	}
	if snap != nil && last < snap.Sequence {
		return 0, fmt.Errorf("%w: snapshot sequence %d is ahead of journal sequence %d",
			ErrRecoveryInconsistency, snap.Sequence, last)
	}

	replayed := 0
	err = s.opts.Journal.Replay(ctx, from, func(seq uint64, data []byte) error {
		cmd, err := DecodeCommand(s.codec, data)
		if err != nil {
			return &PersistenceError{Op: "replay", Seq: seq, Err: err}
		}
		ack, err := s.manager.restore(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%w: replay %d (%s %s): %v",
				ErrRecoveryInconsistency, seq, cmd.Kind(), cmd.CommandID(), err)
		}
		s.ack.OnAcknowledge(ctx, ack, cmd, nil, true)
		replayed++
		if s.snapshot.ShouldSnapshot(cmd, seq) {
			state, err := s.manager.CurrentState(ctx, seq)
			if err != nil {
				return err
			}
			s.saveSnapshot(ctx, state)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	stats, err := s.manager.Stats(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("journal replayed", "from", from, "records", replayed, "pending", stats.Pending)
	return stats.Pending, nil
}

// Stop stops accepting commands, fails the ones not yet processed with
// ErrStopped, and stops the manager. The journal, snapshot store and
// transport are not closed.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop.Do(func() {
		prev := Status(s.status.Swap(int32(StatusStopped)))
		left := s.mb.Close()
		if prev == StatusRunning {
			<-s.done
		}
		for _, sub := range append(s.stash, left...) {
			s.fail(sub, ErrStopped)
		}
		s.stash = nil
		s.manager.Stop()
		if prev == StatusRunning {
			s.logger.Info("scheduler stopped")
		}
	})
	return nil
}

// Submit queues cmd. The returned Pending resolves once cmd is durable and
// applied, or has failed.
func (s *Scheduler) Submit(ctx context.Context, cmd Command, opts ...SubmitOption) (*Pending, error) {
	switch s.Status() {
	case StatusNew, StatusRecovering:
		return nil, ErrNotStarted
	case StatusStopped:
		return nil, ErrStopped
	}
	cmd, err := normalize(cmd)
	if err != nil {
		s.logger.Error("rejected command", "error", err)
		return nil, err
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "futuremsg.submit",
		trace.WithAttributes(
			attribute.String("futuremsg.scheduler", s.name),
			attribute.String("futuremsg.id", cmd.CommandID()),
			attribute.String("futuremsg.kind", string(cmd.Kind()))),
		trace.WithSpanKind(trace.SpanKindProducer))

	sub := &submission{
		ctx:     context.WithoutCancel(ctx),
		cmd:     cmd,
		span:    span,
		pending: newPending(),
	}
	for _, opt := range opts {
		opt(sub)
	}
	if err := s.mb.Send(sub); err != nil {
		span.End()
		return nil, ErrStopped
	}
	return sub.pending, nil
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		var dump <-chan managerResponse
		if s.awaitingDump {
			dump = s.dump
		}
		select {
		case sub, ok := <-s.mb.Receive():
			if !ok {
				if s.awaitingDump {
					s.finishDump(<-s.dump)
				}
				return
			}
			if s.awaitingDump {
				s.stash = append(s.stash, sub)
				continue
			}
			s.process(sub)
		case res := <-dump:
			s.finishDump(res)
			s.unstash()
		}
	}
}

func (s *Scheduler) finishDump(res managerResponse) {
	s.awaitingDump = false
	s.dump = nil
	if res.err != nil {
		s.reportError(&PersistenceError{Op: "snapshot", Err: res.err})
		return
	}
	s.saveSnapshot(context.Background(), res.state)
}

func (s *Scheduler) unstash() {
	for len(s.stash) > 0 && !s.awaitingDump {
		sub := s.stash[0]
		s.stash[0] = nil
		s.stash = s.stash[1:]
		s.process(sub)
	}
}

func (s *Scheduler) process(sub *submission) {
	ctx := sub.ctx
	if s.opts.FixedCapacity > 0 {
		// a refused schedule must never reach the journal, or recovery
		// would bring it back
		if err := s.manager.admit(ctx, sub.cmd); err != nil {
			s.logger.Warn("command not admitted", "id", sub.cmd.CommandID(), "error", err)
			s.fail(sub, err)
			return
		}
	}
	data, err := EncodeCommand(s.codec, sub.cmd)
	if err != nil {
		s.fail(sub, err)
		return
	}
	seq, err := s.opts.Journal.Append(ctx, data)
	if err != nil {
		err = &PersistenceError{Op: "append", Err: err}
		s.logger.Error("journal append failed", "id", sub.cmd.CommandID(), "error", err)
		s.fail(sub, err)
		return
	}

	ack, err := s.manager.Apply(ctx, sub.cmd)
	if err != nil {
		s.logger.Warn("command not applied", "id", sub.cmd.CommandID(), "sequence", seq, "error", err)
		s.fail(sub, err)
	} else {
		s.metrics.command(ctx, ack.Kind)
		s.ack.OnAcknowledge(ctx, ack, sub.cmd, sub.caller, false)
		sub.span.End()
		sub.pending.resolve(ack, nil)
	}

	// replay evaluates the policy for every journaled sequence, so the live
	// path does too
	if s.snapshot.ShouldSnapshot(sub.cmd, seq) {
		s.awaitingDump = true
		s.dump = s.manager.requestState(seq)
	}
}

func (s *Scheduler) fail(sub *submission, err error) {
	s.ack.OnAcknowledgeFailed(sub.ctx, err, sub.cmd, sub.caller, false)
	sub.span.RecordError(err)
	sub.span.SetStatus(codes.Error, err.Error())
	sub.span.End()
	sub.pending.resolve(Ack{}, err)
}

func (s *Scheduler) saveSnapshot(ctx context.Context, state State) {
	if c := s.opts.FixedCapacity; c > 0 && len(state.Messages) > c {
		// recovery refuses snapshots above the capacity; the journal still
		// covers this state
		s.logger.Warn("snapshot skipped, queue above fixed capacity",
			"sequence", state.Sequence, "messages", len(state.Messages), "capacity", c)
		return
	}
	data, err := EncodeMessages(s.codec, state.Messages)
	if err != nil {
		s.reportError(&PersistenceError{Op: "snapshot", Seq: state.Sequence, Err: err})
		return
	}
	err = s.opts.Snapshots.Save(ctx, snapshot.Snapshot{
		Sequence: state.Sequence,
		AsOf:     state.AsOf,
		Count:    len(state.Messages),
		Data:     data,
	})
	if err != nil {
		s.reportError(&PersistenceError{Op: "snapshot", Seq: state.Sequence, Err: err})
		return
	}
	s.metrics.snapshot(ctx)
	s.logger.Info("snapshot saved", "sequence", state.Sequence, "messages", len(state.Messages))
}

func (s *Scheduler) reportError(err error) {
	s.logger.Error("background failure", "error", err)
	if s.opts.ErrorHandler != nil {
		s.opts.ErrorHandler(err)
	}
}

func (s *Scheduler) submitAndWait(ctx context.Context, cmd Command) (Ack, error) {
	p, err := s.Submit(ctx, cmd)
	if err != nil {
		return Ack{}, err
	}
	return p.Wait(ctx)
}

// Schedule registers msg and waits until it is durable. A missing ID is
// generated.
func (s *Scheduler) Schedule(ctx context.Context, msg Schedule) (Ack, error) {
	if msg.ID == "" {
		msg.ID = transport.NewID()
	}
	return s.submitAndWait(ctx, msg)
}

// ScheduleAt schedules payload for delivery to destination at the given time
// and returns the generated message ID.
func (s *Scheduler) ScheduleAt(ctx context.Context, destination string, payload []byte, metadata map[string]string, at time.Time) (string, error) {
	ack, err := s.Schedule(ctx, Schedule{
		Payload:     payload,
		Metadata:    metadata,
		FireTime:    at,
		Destination: destination,
	})
	return ack.ID, err
}

// ScheduleAfter schedules payload for delivery to destination after delay
// and returns the generated message ID.
func (s *Scheduler) ScheduleAfter(ctx context.Context, destination string, payload []byte, metadata map[string]string, delay time.Duration) (string, error) {
	return s.ScheduleAt(ctx, destination, payload, metadata, time.Now().Add(delay))
}

// Recall cancels a pending message. Unknown ids are not an error.
func (s *Scheduler) Recall(ctx context.Context, id string) error {
	_, err := s.submitAndWait(ctx, Recall{ID: id})
	return err
}

// Reschedule moves a pending message to at.
func (s *Scheduler) Reschedule(ctx context.Context, id string, at time.Time) error {
	_, err := s.submitAndWait(ctx, UpdateFireTimeAbsolute{ID: id, FireTime: at})
	return err
}

// Postpone shifts a pending message's fire time by delta. A negative delta
// brings it forward.
func (s *Scheduler) Postpone(ctx context.Context, id string, delta time.Duration) error {
	_, err := s.submitAndWait(ctx, UpdateFireTimeRelative{ID: id, Delta: delta})
	return err
}

// Stats reports queue occupancy.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	if s.Status() != StatusRunning {
		return Stats{}, ErrNotStarted
	}
	return s.manager.Stats(ctx)
}
