package futuremsg

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/futuremsg/internal/mailbox"
	"github.com/rbaliyan/futuremsg/pqueue"
	"github.com/rbaliyan/futuremsg/transport"
	"go.opentelemetry.io/otel/trace"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Source is the scheduler name stamped on delivered messages.
	Source string

	// Capacity is the initial queue capacity and, unless Fixed is set, the
	// growth step. Default: 128
	Capacity int

	// Fixed caps live schedules at Capacity with ErrQueueFull. Restored
	// state may still exceed it.
	Fixed bool

	// FireEpsilon lets a tick deliver messages due up to this far ahead.
	FireEpsilon time.Duration

	// DeliveryTimeout bounds one transport publish. Default: 5s
	DeliveryTimeout time.Duration

	Logger       *slog.Logger
	ErrorHandler func(error)

	metrics *metrics
}

const (
	managerNew int32 = iota
	managerStarted
	managerStopped
)

type managerOp int

const (
	opTick managerOp = iota
	opStart
	opCommand
	opState
	opStats
	opAdmit
)

type managerRequest struct {
	op    managerOp
	ctx   context.Context
	cmd   Command
	seq   uint64
	reply chan managerResponse

	// replay marks recovery commands, which may exceed a fixed capacity.
	replay bool
}

type managerResponse struct {
	ack   Ack
	state State
	stats Stats
	err   error
}

type entry struct {
	msg  ScheduledMessage
	span trace.SpanContext
}

// Manager owns the pending message queue and its wake-up timer.
//
// Every input is handled by one goroutine reading a FIFO mailbox, so the
// queue and the timer need no locks. Commands are applied as given; making
// them durable is the Scheduler's job.
type Manager struct {
	cfg       ManagerConfig
	transport transport.Transport
	logger    *slog.Logger

	mb     *mailbox.Mailbox[managerRequest]
	status atomic.Int32
	done   chan struct{}
	stop   sync.Once

	// owned by the worker goroutine
	queue   *pqueue.Queue[entry]
	timer   *time.Timer
	started bool
}

// NewManager creates a manager delivering through tr. The manager accepts
// restored state immediately but only applies commands and fires messages
// after Start.
func NewManager(tr transport.Transport, cfg ManagerConfig) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultSettings().DefaultQueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultSettings().DeliveryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "futuremsg.manager")
	}
	m := &Manager{
		cfg:       cfg,
		transport: tr,
		logger:    cfg.Logger,
		mb:        mailbox.New[managerRequest](),
		done:      make(chan struct{}),
		queue:     pqueue.New[entry](cfg.Capacity),
	}
	go m.run()
	return m
}

// Start begins firing messages. Messages that are already overdue fire
// immediately.
func (m *Manager) Start() error {
	if !m.status.CompareAndSwap(managerNew, managerStarted) {
		if m.status.Load() == managerStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	return m.send(managerRequest{op: opStart})
}

// Stop cancels the timer and fails every request still queued with
// ErrStopped. Messages not yet delivered are discarded from memory; they
// remain in the journal.
func (m *Manager) Stop() {
	m.stop.Do(func() {
		m.status.Store(managerStopped)
		left := m.mb.Close()
		<-m.done
		for _, req := range left {
			if req.reply != nil {
				req.reply <- managerResponse{err: ErrStopped}
			}
		}
	})
}

// Apply applies cmd and returns its acknowledgement.
func (m *Manager) Apply(ctx context.Context, cmd Command) (Ack, error) {
	switch m.status.Load() {
	case managerNew:
		return Ack{}, ErrNotStarted
	case managerStopped:
		return Ack{}, ErrStopped
	}
	return m.apply(ctx, cmd)
}

// restore applies cmd during recovery, before Start. Restored messages are
// never rejected for capacity: the journal only holds accepted schedules, and
// messages delivered since the last snapshot come back until they fire again.
func (m *Manager) restore(ctx context.Context, cmd Command) (Ack, error) {
	if m.status.Load() == managerStopped {
		return Ack{}, ErrStopped
	}
	res, err := m.call(ctx, managerRequest{op: opCommand, ctx: ctx, cmd: cmd, replay: true})
	if err != nil {
		return Ack{}, err
	}
	return res.ack, res.err
}

func (m *Manager) apply(ctx context.Context, cmd Command) (Ack, error) {
	res, err := m.call(ctx, managerRequest{op: opCommand, ctx: ctx, cmd: cmd})
	if err != nil {
		return Ack{}, err
	}
	return res.ack, res.err
}

// admit reports ErrQueueFull when a fixed-capacity queue has no room for
// cmd. Only a new Schedule can be refused.
func (m *Manager) admit(ctx context.Context, cmd Command) error {
	res, err := m.call(ctx, managerRequest{op: opAdmit, cmd: cmd})
	if err != nil {
		return err
	}
	return res.err
}

// CurrentState returns the pending messages in fire order, tagged with seq.
func (m *Manager) CurrentState(ctx context.Context, seq uint64) (State, error) {
	res, err := m.call(ctx, managerRequest{op: opState, seq: seq})
	if err != nil {
		return State{}, err
	}
	return res.state, res.err
}

// requestState asks for a state dump without waiting for it.
func (m *Manager) requestState(seq uint64) <-chan managerResponse {
	reply := make(chan managerResponse, 1)
	if err := m.send(managerRequest{op: opState, seq: seq, reply: reply}); err != nil {
		reply <- managerResponse{err: err}
	}
	return reply
}

// Stats reports queue occupancy.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	res, err := m.call(ctx, managerRequest{op: opStats})
	if err != nil {
		return Stats{}, err
	}
	return res.stats, res.err
}

func (m *Manager) call(ctx context.Context, req managerRequest) (managerResponse, error) {
	req.reply = make(chan managerResponse, 1)
	if err := m.send(req); err != nil {
		return managerResponse{}, err
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return managerResponse{}, ctx.Err()
	}
}

func (m *Manager) send(req managerRequest) error {
	if err := m.mb.Send(req); err != nil {
		if errors.Is(err, mailbox.ErrClosed) {
			return ErrStopped
		}
		return err
	}
	return nil
}

func (m *Manager) run() {
	defer close(m.done)
	for req := range m.mb.Receive() {
		m.handle(req)
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) handle(req managerRequest) {
	switch req.op {
	case opTick:
		if m.started {
			m.tick()
		}
	case opStart:
		m.started = true
		m.logger.Info("manager started", "pending", m.queue.Len())
		m.tick()
	case opCommand:
		headID, headTime := m.head()
		ack, err := m.applyCommand(req.ctx, req.cmd, req.replay)
		if id, t := m.head(); id != headID || !t.Equal(headTime) {
			m.rearm()
		}
		req.reply <- managerResponse{ack: ack, err: err}
	case opState:
		req.reply <- managerResponse{state: m.dump(req.seq)}
	case opStats:
		capacity := m.queue.Cap()
		if m.cfg.Fixed {
			capacity = m.cfg.Capacity
		}
		req.reply <- managerResponse{stats: Stats{Pending: m.queue.Len(), Capacity: capacity}}
	case opAdmit:
		var err error
		if c, ok := req.cmd.(Schedule); ok && m.full() {
			if _, dup := m.queue.Get(c.ID); !dup {
				err = ErrQueueFull
			}
		}
		req.reply <- managerResponse{err: err}
	}
}

// full reports whether a fixed-capacity queue is at its limit.
func (m *Manager) full() bool {
	return m.cfg.Fixed && m.queue.Len() >= m.cfg.Capacity
}

func (m *Manager) applyCommand(ctx context.Context, cmd Command, replay bool) (Ack, error) {
	cmd, err := normalize(cmd)
	if err != nil {
		m.logger.Error("rejected command", "error", err)
		return Ack{}, err
	}
	ack := Ack{ID: cmd.CommandID(), Kind: cmd.Kind()}

	switch c := cmd.(type) {
	case Schedule:
		if _, ok := m.queue.Get(c.ID); ok {
			m.logger.Debug("duplicate schedule ignored", "id", c.ID)
			return ack, nil
		}
		if !replay && m.full() {
			return Ack{}, ErrQueueFull
		}
		if m.queue.Len() >= m.queue.Cap() {
			m.queue.Grow(m.cfg.Capacity)
			m.logger.Debug("queue grown", "capacity", m.queue.Cap())
		}
		e := entry{msg: newScheduledMessage(c), span: trace.SpanContextFromContext(ctx)}
		if _, err := m.queue.Push(c.ID, c.FireTime, e); err != nil {
			return Ack{}, err
		}
		m.cfg.metrics.pendingDelta(ctx, 1)
		m.logger.Debug("message scheduled", "id", c.ID, "fire_time", c.FireTime, "destination", c.Destination)
	case Recall:
		if m.queue.Remove(c.ID) {
			m.cfg.metrics.pendingDelta(ctx, -1)
			m.logger.Debug("message recalled", "id", c.ID)
		}
	case UpdateFireTimeAbsolute:
		if m.queue.Update(c.ID, c.FireTime) {
			m.logger.Debug("message rescheduled", "id", c.ID, "fire_time", c.FireTime)
		}
	case UpdateFireTimeRelative:
		if item, ok := m.queue.Get(c.ID); ok {
			fireTime := item.FireTime.Add(c.Delta)
			m.queue.Update(c.ID, fireTime)
			m.logger.Debug("message rescheduled", "id", c.ID, "fire_time", fireTime)
		}
	}
	return ack, nil
}

func (m *Manager) head() (string, time.Time) {
	if item, ok := m.queue.Peek(); ok {
		return item.ID, item.FireTime
	}
	return "", time.Time{}
}

// tick delivers every due message, then re-arms the timer for the new head.
func (m *Manager) tick() {
	deadline := time.Now().Add(m.cfg.FireEpsilon)
	for {
		item, ok := m.queue.Peek()
		if !ok || item.FireTime.After(deadline) {
			break
		}
		m.queue.Pop()
		m.deliver(item)
	}
	m.rearm()
}

func (m *Manager) deliver(item *pqueue.Item[entry]) {
	msg := transport.Message{
		ID:          item.ID,
		Source:      m.cfg.Source,
		Destination: item.Value.msg.Destination,
		Payload:     item.Value.msg.Payload,
		Metadata:    item.Value.msg.Metadata,
		FireTime:    item.FireTime,
		SpanContext: item.Value.span,
	}
	ctx := context.Background()
	if item.Value.span.IsValid() {
		ctx = msg.Context()
	}
	m.cfg.metrics.pendingDelta(ctx, -1)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DeliveryTimeout)
	err := m.transport.Publish(ctx, msg.Destination, msg)
	cancel()
	m.cfg.metrics.delivery(ctx, msg.Destination, err)
	if err != nil {
		m.logger.Error("delivery failed", "id", msg.ID, "destination", msg.Destination, "error", err)
		if m.cfg.ErrorHandler != nil {
			m.cfg.ErrorHandler(&DeliveryError{ID: msg.ID, Destination: msg.Destination, Message: msg, Err: err})
		}
		return
	}
	m.logger.Debug("message delivered", "id", msg.ID, "destination", msg.Destination,
		"lag", time.Since(item.FireTime))
}

// rearm replaces the outstanding timer with one for the current head.
func (m *Manager) rearm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if !m.started {
		return
	}
	item, ok := m.queue.Peek()
	if !ok {
		return
	}
	d := time.Until(item.FireTime)
	if d < 0 {
		d = 0
	}
	m.timer = time.AfterFunc(d, func() {
		_ = m.mb.Send(managerRequest{op: opTick})
	})
}

func (m *Manager) dump(seq uint64) State {
	items := m.queue.Items()
	msgs := make([]ScheduledMessage, 0, len(items))
	for _, item := range items {
		msg := item.Value.msg
		msg.FireTime = item.FireTime
		msgs = append(msgs, msg)
	}
	return State{Sequence: seq, AsOf: time.Now(), Messages: msgs}
}
