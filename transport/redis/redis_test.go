package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/transport"
	"github.com/redis/go-redis/v9"
)

// mockRedisClient implements Client for testing
type mockRedisClient struct {
	mu      sync.Mutex
	streams map[string][]redis.XMessage
	args    []*redis.XAddArgs
	msgID   int
	xaddErr error
	pingErr error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{streams: make(map[string][]redis.XMessage)}
}

func (m *mockRedisClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)
	if m.xaddErr != nil {
		cmd.SetErr(m.xaddErr)
		return cmd
	}

	m.msgID++
	msgID := fmt.Sprintf("%d-0", m.msgID)
	values, _ := a.Values.(map[string]interface{})
	m.streams[a.Stream] = append(m.streams[a.Stream], redis.XMessage{ID: msgID, Values: values})
	m.args = append(m.args, a)
	cmd.SetVal(msgID)
	return cmd
}

func (m *mockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.pingErr != nil {
		cmd.SetErr(m.pingErr)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrClientRequired) {
		t.Errorf("expected ErrClientRequired, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, err := New(client, WithCodec(codec.MsgPack{}), WithStreamPrefix("sched"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tr.Close(ctx)

	msg := transport.Message{
		ID:          "msg-1",
		Source:      "billing",
		Destination: "invoices",
		Payload:     []byte("remind"),
		FireTime:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := tr.Publish(ctx, "invoices", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries := client.streams["sched:invoices"]
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	data, ok := entries[0].Values["data"].([]byte)
	if !ok {
		t.Fatalf("expected []byte data, got %T", entries[0].Values["data"])
	}
	got, err := transport.Decode(codec.MsgPack{}, data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != "msg-1" || string(got.Payload) != "remind" || !got.FireTime.Equal(msg.FireTime) {
		t.Errorf("unexpected decoded message %+v", got)
	}
	if ct := entries[0].Values["content_type"]; ct != "application/msgpack" {
		t.Errorf("unexpected content type %v", ct)
	}
}

func TestPublishTrimming(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client, WithMaxLen(1000), WithMaxAge(time.Hour))

	if err := tr.Publish(ctx, "d", transport.Message{ID: "m"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	args := client.args[0]
	if args.MaxLen != 1000 || !args.Approx || args.MinID == "" {
		t.Errorf("expected MAXLEN and MINID trimming, got %+v", args)
	}
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	client := newMockRedisClient()
	client.xaddErr = boom

	var handled error
	tr, _ := New(client, WithErrorHandler(func(err error) { handled = err }))
	if err := tr.Publish(ctx, "d", transport.Message{ID: "m"}); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if !errors.Is(handled, boom) {
		t.Errorf("error handler got %v", handled)
	}
	if err := tr.Publish(ctx, "", transport.Message{ID: "m"}); !errors.Is(err, transport.ErrNoDestination) {
		t.Errorf("expected ErrNoDestination, got %v", err)
	}

	tr.Close(ctx)
	if err := tr.Publish(ctx, "d", transport.Message{ID: "m"}); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client)

	if h := tr.Health(ctx); !h.IsHealthy() {
		t.Errorf("expected healthy, got %s: %s", h.Status, h.Message)
	}
	client.pingErr = errors.New("timeout")
	if h := tr.Health(ctx); h.IsHealthy() {
		t.Error("expected unhealthy when ping fails")
	}
	tr.Close(ctx)
	if h := tr.Health(ctx); h.IsHealthy() {
		t.Error("expected unhealthy after close")
	}
}
