// Package channel provides an in-memory transport implementation using Go channels.
//
// Channel transport hands fired messages to subscribers within the same
// process. It does NOT provide delivery guarantees:
//
//   - Messages are lost on process crash or restart
//   - Messages for a destination with no subscribers are dropped
//   - Messages may be dropped if a subscriber is slower than the timeout
//
// The channel transport is ideal for:
//   - Embedding the scheduler in a single process
//   - Testing and development
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/futuremsg/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Transport implements transport.Transport using Go channels
type Transport struct {
	status       int32
	destinations sync.Map // map[string]*destination
	bufferSize   uint
	timeout      time.Duration
	logger       *slog.Logger
	onError      func(error)

	droppedCounter metric.Int64Counter
}

// destination tracks the subscribers of one destination name
type destination struct {
	name            string
	mu              sync.RWMutex
	subscribers     map[string]*subscription
	workerNextIndex int64
}

// subscription implements transport.Subscription
type subscription struct {
	id       string
	ch       chan transport.Message
	dest     *destination
	mode     DeliveryMode
	once     sync.Once
	closedCh chan struct{}
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) closed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}

func (s *subscription) Messages() <-chan transport.Message {
	return s.ch
}

// Close unsubscribes. The message channel is not closed, since a publisher
// may be mid-send; readers should stop on their own context.
func (s *subscription) Close(ctx context.Context) error {
	s.once.Do(func() {
		close(s.closedCh)
		s.dest.mu.Lock()
		delete(s.dest.subscribers, s.id)
		s.dest.mu.Unlock()
	})
	return nil
}

// New creates a new channel-based transport.
func New(opts ...Option) *Transport {
	o := newOptions(opts...)

	meter := otel.Meter("futuremsg.transport.channel")
	droppedCounter, _ := meter.Int64Counter("futuremsg.transport.channel.dropped",
		metric.WithDescription("Number of messages dropped by channel transport"),
		metric.WithUnit("{message}"),
	)

	return &Transport{
		status:         1,
		bufferSize:     o.bufferSize,
		timeout:        o.timeout,
		logger:         o.logger,
		onError:        o.onError,
		droppedCounter: droppedCounter,
	}
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) destination(name string) *destination {
	val, _ := t.destinations.LoadOrStore(name, &destination{
		name:        name,
		subscribers: make(map[string]*subscription),
	})
	return val.(*destination)
}

func (t *Transport) dropped(ctx context.Context, dest, reason string) {
	if t.droppedCounter != nil {
		t.droppedCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("destination", dest),
				attribute.String("reason", reason),
			))
	}
}

// Publish sends a message to a destination's subscribers.
// A destination with no subscribers drops the message and returns nil.
func (t *Transport) Publish(ctx context.Context, name string, msg transport.Message) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if name == "" {
		return transport.ErrNoDestination
	}

	d := t.destination(name)
	var broadcastSubs, workerSubs []*subscription
	for _, sub := range d.snapshot() {
		if sub.mode == WorkerPool {
			workerSubs = append(workerSubs, sub)
		} else {
			broadcastSubs = append(broadcastSubs, sub)
		}
	}

	if len(broadcastSubs) == 0 && len(workerSubs) == 0 {
		t.logger.Debug("dropping message, no subscribers", "destination", name, "msg_id", msg.ID)
		t.dropped(ctx, name, "no_subscribers")
		return nil
	}

	for _, sub := range broadcastSubs {
		if err := t.sendToSubscriber(ctx, sub, msg); err != nil {
			t.logger.Debug("failed to send to broadcast subscriber",
				"destination", name,
				"subscriber", sub.id,
				"error", err)
			if errors.Is(err, transport.ErrPublishTimeout) {
				t.dropped(ctx, name, "timeout")
			}
			t.onError(err)
		}
	}

	if len(workerSubs) == 0 {
		return nil
	}

	// Round-robin over workers, falling through to the next on failure
	start := atomic.AddInt64(&d.workerNextIndex, 1)
	n := int64(len(workerSubs))
	var lastErr error
	for i := range n {
		sub := workerSubs[(start+i)%n]
		if err := t.sendToSubscriber(ctx, sub, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	t.logger.Warn("all worker subscribers failed, message dropped",
		"destination", name,
		"msg_id", msg.ID,
		"workers_tried", n,
		"last_error", lastErr)
	t.dropped(ctx, name, "all_workers_failed")
	t.onError(lastErr)
	return lastErr
}

func (t *Transport) sendToSubscriber(ctx context.Context, sub *subscription, msg transport.Message) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if sub.closed() {
		return transport.ErrSubscriptionClosed
	}

	select {
	case <-ctx.Done():
		return transport.ErrPublishTimeout
	case <-sub.closedCh:
		return transport.ErrSubscriptionClosed
	case sub.ch <- msg:
		return nil
	}
}

// Subscribe creates a subscription to receive messages for a destination.
// Default is Broadcast mode (all subscribers receive every message).
func (t *Transport) Subscribe(ctx context.Context, name string, opts ...SubscribeOption) (transport.Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}

	so := &subscribeOptions{mode: Broadcast, bufferSize: int(t.bufferSize)}
	for _, opt := range opts {
		opt(so)
	}

	d := t.destination(name)
	sub := &subscription{
		id:       transport.NewID(),
		ch:       make(chan transport.Message, so.bufferSize),
		dest:     d,
		mode:     so.mode,
		closedCh: make(chan struct{}),
	}

	d.mu.Lock()
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	t.logger.Debug("added subscriber", "destination", name, "subscriber", sub.id, "mode", so.mode)
	return sub, nil
}

// each calls fn for every destination until fn returns false.
func (t *Transport) each(fn func(d *destination) bool) {
	t.destinations.Range(func(_, value any) bool {
		return fn(value.(*destination))
	})
}

// snapshot returns the destination's current subscribers.
func (d *destination) snapshot() []*subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := make([]*subscription, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// Close unsubscribes everyone. Later publishes fail with ErrTransportClosed.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.each(func(d *destination) bool {
		for _, sub := range d.snapshot() {
			sub.Close(ctx)
		}
		return true
	})
	t.logger.Debug("transport closed")
	return nil
}

// Health reports open/closed along with destination and subscriber counts.
func (t *Transport) Health(ctx context.Context) *transport.HealthCheckResult {
	start := time.Now()
	if !t.isOpen() {
		return &transport.HealthCheckResult{
			Status:    transport.HealthStatusUnhealthy,
			Message:   "transport is closed",
			CheckedAt: start,
			Latency:   time.Since(start),
		}
	}

	dests, subs := 0, 0
	t.each(func(d *destination) bool {
		dests++
		subs += len(d.snapshot())
		return true
	})

	return &transport.HealthCheckResult{
		Status:    transport.HealthStatusHealthy,
		CheckedAt: start,
		Latency:   time.Since(start),
		Details: map[string]any{
			"type":         "channel",
			"destinations": dests,
			"subscribers":  subs,
			"buffer_size":  t.bufferSize,
		},
	}
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)
var _ transport.HealthChecker = (*Transport)(nil)
var _ transport.Subscription = (*subscription)(nil)
