package nats

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/transport"
)

type mockConn struct {
	mu       sync.Mutex
	msgs     []*nats.Msg
	flushes  int
	err      error
	flushErr error
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockConn) FlushWithContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return m.flushErr
}

type mockJetStream struct {
	mu    sync.Mutex
	msgs  []*nats.Msg
	seen  map[string]bool
	opts  int
	err   error
	dedup bool
}

func (m *mockJetStream) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.opts += len(opts)
	ack := &jetstream.PubAck{Stream: "SCHEDULED", Sequence: uint64(len(m.msgs) + 1)}
	if m.dedup && len(opts) > 0 {
		if m.seen == nil {
			m.seen = make(map[string]bool)
		}
		key := string(msg.Data)
		if m.seen[key] {
			ack.Duplicate = true
			return ack, nil
		}
		m.seen[key] = true
	}
	m.msgs = append(m.msgs, msg)
	return ack, nil
}

func TestCorePublish(t *testing.T) {
	ctx := context.Background()
	conn := &mockConn{}
	tr, err := New(conn, WithSubjectPrefix("reminders"), WithFlush(true))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := transport.Message{ID: "m1", Source: "billing", Payload: []byte("hi")}
	if err := tr.Publish(ctx, "invoices", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(conn.msgs) != 1 || conn.flushes != 1 {
		t.Fatalf("expected 1 publish and 1 flush, got %d and %d", len(conn.msgs), conn.flushes)
	}
	got := conn.msgs[0]
	if got.Subject != "reminders.invoices" {
		t.Errorf("unexpected subject %s", got.Subject)
	}
	if got.Header.Get(HeaderSource) != "billing" || got.Header.Get(HeaderContentType) != "application/json" {
		t.Errorf("unexpected headers %v", got.Header)
	}
	decoded, err := transport.Decode(codec.JSON{}, got.Data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.ID != "m1" || string(decoded.Payload) != "hi" {
		t.Errorf("unexpected message %+v", decoded)
	}
}

func TestCorePublishErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := New(nil); !errors.Is(err, ErrConnRequired) {
		t.Errorf("expected ErrConnRequired, got %v", err)
	}

	boom := errors.New("no responders")
	conn := &mockConn{err: boom}
	var handled error
	tr, _ := New(conn, WithErrorHandler(func(err error) { handled = err }))
	if err := tr.Publish(ctx, "d", transport.Message{ID: "m"}); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if !errors.Is(handled, boom) {
		t.Errorf("error handler got %v", handled)
	}
	if err := tr.Publish(ctx, "", transport.Message{}); !errors.Is(err, transport.ErrNoDestination) {
		t.Errorf("expected ErrNoDestination, got %v", err)
	}
	tr.Close(ctx)
	if err := tr.Publish(ctx, "d", transport.Message{}); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestJetStreamPublish(t *testing.T) {
	ctx := context.Background()
	js := &mockJetStream{dedup: true}
	tr, err := NewJetStream(js, WithCodec(codec.MsgPack{}))
	if err != nil {
		t.Fatalf("NewJetStream failed: %v", err)
	}

	msg := transport.Message{ID: "m1", Payload: []byte("x")}
	for i := 0; i < 2; i++ {
		if err := tr.Publish(ctx, "invoices", msg); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	if len(js.msgs) != 1 {
		t.Errorf("expected duplicate to be dropped, stream holds %d", len(js.msgs))
	}
	if js.opts != 2 {
		t.Errorf("expected msg id option on each publish, got %d", js.opts)
	}
	if js.msgs[0].Subject != "invoices" {
		t.Errorf("unexpected subject %s", js.msgs[0].Subject)
	}

	t.Run("dedup disabled", func(t *testing.T) {
		js := &mockJetStream{}
		tr, _ := NewJetStream(js, WithDeduplication(false))
		tr.Publish(ctx, "d", msg)
		if js.opts != 0 {
			t.Errorf("expected no publish options, got %d", js.opts)
		}
	})

	t.Run("publish error", func(t *testing.T) {
		boom := errors.New("stream not found")
		tr, _ := NewJetStream(&mockJetStream{err: boom})
		if err := tr.Publish(ctx, "d", msg); !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
	})
}
