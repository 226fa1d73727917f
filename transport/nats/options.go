package nats

import (
	"log/slog"

	"github.com/rbaliyan/futuremsg/codec"
)

// Option configures both NATS transports
type Option func(*options)

type options struct {
	codec         codec.Codec
	subjectPrefix string
	logger        *slog.Logger
	onError       func(error)
	dedup         bool
	flush         bool
}

func defaultOptions(component string) *options {
	return &options{
		codec:   codec.Default(),
		logger:  slogDefault(component),
		onError: func(error) {},
		dedup:   true,
	}
}

// WithCodec sets the codec for message serialization
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithSubjectPrefix publishes each destination on "<prefix>.<destination>".
// Default: no prefix, the destination is the subject.
func WithSubjectPrefix(prefix string) Option {
	return func(o *options) {
		o.subjectPrefix = prefix
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorHandler sets the error handler callback
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithDeduplication controls whether JetStream publishes carry the message
// ID as Nats-Msg-Id, letting the stream drop a message refired after
// recovery within its duplicate window. Enabled by default.
func WithDeduplication(enabled bool) Option {
	return func(o *options) {
		o.dedup = enabled
	}
}

// WithFlush makes Core publishes wait for the server to acknowledge the
// flush, so Publish reports connection errors instead of buffering.
func WithFlush(enabled bool) Option {
	return func(o *options) {
		o.flush = enabled
	}
}
