package channel

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/futuremsg/transport"
)

// DefaultBufferSize is the per-subscription buffer when none is configured.
var DefaultBufferSize uint = 100

// options holds configuration for transport (unexported)
type options struct {
	bufferSize uint
	timeout    time.Duration
	onError    func(error)
	logger     *slog.Logger
}

// Option configures the channel transport
type Option func(*options)

// WithBufferSize sets the buffer size for subscription channels.
// A size of 0 makes delivery block until the subscriber receives.
func WithBufferSize(size uint) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// WithTimeout sets the timeout for sending to each subscriber.
// Set to 0 to wait until the publish context is done.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithErrorHandler sets the error handler callback.
// Called when a delivery to a subscriber fails (e.g., send timeout).
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithLogger sets the logger for transport
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		bufferSize: DefaultBufferSize,
		onError:    func(error) {},
		logger:     transport.Logger("transport>channel"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeliveryMode controls how a subscription shares a destination.
type DeliveryMode int

const (
	// Broadcast subscriptions each receive every message.
	Broadcast DeliveryMode = iota
	// WorkerPool subscriptions share messages; each message reaches one of them.
	WorkerPool
)

type subscribeOptions struct {
	mode       DeliveryMode
	bufferSize int
}

// SubscribeOption configures a subscription
type SubscribeOption func(*subscribeOptions)

// WithDeliveryMode sets the delivery mode of a subscription.
func WithDeliveryMode(mode DeliveryMode) SubscribeOption {
	return func(o *subscribeOptions) {
		o.mode = mode
	}
}

// WithSubscriptionBuffer overrides the transport buffer size for one subscription.
func WithSubscriptionBuffer(size int) SubscribeOption {
	return func(o *subscribeOptions) {
		if size >= 0 {
			o.bufferSize = size
		}
	}
}
