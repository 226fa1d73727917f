// Package nats delivers fired messages over NATS.
//
// Two transports are provided:
//
// # NATS Core (New)
//
// Plain publish with at-most-once semantics. If no subscriber is listening
// on the subject the message is gone.
//
//	tr, err := nats.New(conn, nats.WithSubjectPrefix("reminders"))
//
// # NATS JetStream (NewJetStream)
//
// Publish into a stream and wait for the server's PubAck. With
// deduplication on (the default), the message ID is sent as Nats-Msg-Id so
// a message that fires again after a scheduler restart is dropped by the
// stream's duplicate window.
//
//	js, _ := jetstream.New(conn)
//	tr, err := nats.NewJetStream(js)
package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rbaliyan/futuremsg/transport"
)

// Errors
var (
	ErrConnRequired = errors.New("nats connection is required")
)

// Header names set on every published message
const (
	HeaderContentType = "Content-Type"
	HeaderSource      = "Futuremsg-Source"
)

// Conn is the subset of *nats.Conn used by the Core transport.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// JetStreamPublisher is the subset of jetstream.JetStream used by the
// JetStream transport.
type JetStreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

func slogDefault(component string) *slog.Logger {
	return transport.Logger(component)
}

func (o *options) subject(destination string) string {
	if o.subjectPrefix == "" {
		return destination
	}
	return o.subjectPrefix + "." + destination
}

func (o *options) message(destination string, msg transport.Message) (*nats.Msg, error) {
	data, err := transport.Encode(o.codec, msg)
	if err != nil {
		return nil, err
	}
	m := nats.NewMsg(o.subject(destination))
	m.Data = data
	m.Header.Set(HeaderContentType, o.codec.ContentType())
	if msg.Source != "" {
		m.Header.Set(HeaderSource, msg.Source)
	}
	return m, nil
}

// CoreTransport implements transport.Transport using NATS Core publish.
type CoreTransport struct {
	status int32
	conn   Conn
	opts   *options
}

// New creates a NATS Core transport. The connection is owned by the caller.
func New(conn Conn, opts ...Option) (*CoreTransport, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	o := defaultOptions("futuremsg.transport.nats")
	for _, opt := range opts {
		opt(o)
	}
	return &CoreTransport{status: 1, conn: conn, opts: o}, nil
}

// Publish sends msg on the destination subject
func (t *CoreTransport) Publish(ctx context.Context, destination string, msg transport.Message) error {
	if atomic.LoadInt32(&t.status) != 1 {
		return transport.ErrTransportClosed
	}
	if destination == "" {
		return transport.ErrNoDestination
	}
	m, err := t.opts.message(destination, msg)
	if err != nil {
		return err
	}
	if err := t.conn.PublishMsg(m); err != nil {
		t.opts.onError(err)
		return err
	}
	if t.opts.flush {
		if err := t.conn.FlushWithContext(ctx); err != nil {
			t.opts.onError(err)
			return err
		}
	}
	t.opts.logger.Debug("published message", "subject", m.Subject, "msg_id", msg.ID)
	return nil
}

// Close marks the transport closed
func (t *CoreTransport) Close(ctx context.Context) error {
	atomic.StoreInt32(&t.status, 0)
	return nil
}

// JetStreamTransport implements transport.Transport using NATS JetStream.
// The target stream must already exist and cover the published subjects.
type JetStreamTransport struct {
	status int32
	js     JetStreamPublisher
	opts   *options
}

// NewJetStream creates a JetStream transport.
func NewJetStream(js JetStreamPublisher, opts ...Option) (*JetStreamTransport, error) {
	if js == nil {
		return nil, ErrConnRequired
	}
	o := defaultOptions("futuremsg.transport.nats-jetstream")
	for _, opt := range opts {
		opt(o)
	}
	return &JetStreamTransport{status: 1, js: js, opts: o}, nil
}

// Publish stores msg in the stream bound to the destination subject
func (t *JetStreamTransport) Publish(ctx context.Context, destination string, msg transport.Message) error {
	if atomic.LoadInt32(&t.status) != 1 {
		return transport.ErrTransportClosed
	}
	if destination == "" {
		return transport.ErrNoDestination
	}
	m, err := t.opts.message(destination, msg)
	if err != nil {
		return err
	}

	var pubOpts []jetstream.PublishOpt
	if t.opts.dedup && msg.ID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(msg.ID))
	}

	ack, err := t.js.PublishMsg(ctx, m, pubOpts...)
	if err != nil {
		t.opts.onError(err)
		return err
	}
	if ack != nil && ack.Duplicate {
		t.opts.logger.Info("duplicate delivery dropped by stream", "subject", m.Subject, "msg_id", msg.ID, "stream", ack.Stream)
		return nil
	}
	t.opts.logger.Debug("published message", "subject", m.Subject, "msg_id", msg.ID)
	return nil
}

// Close marks the transport closed
func (t *JetStreamTransport) Close(ctx context.Context) error {
	atomic.StoreInt32(&t.status, 0)
	return nil
}

// Compile-time checks
var (
	_ transport.Transport = (*CoreTransport)(nil)
	_ transport.Transport = (*JetStreamTransport)(nil)
	_ Conn                = (*nats.Conn)(nil)
)
