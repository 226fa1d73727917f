package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/transport"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	msg := transport.Message{
		ID:       "m1",
		Source:   "billing",
		Payload:  []byte("remind"),
		FireTime: time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC),
	}

	var got *sarama.ProducerMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
		got = pm
		return nil
	})

	tr := NewWithProducer(producer, WithTopicPrefix("sched."), WithCodec(codec.NewZstd(codec.JSON{})))
	if err := tr.Publish(ctx, "invoices", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got.Topic != "sched.invoices" {
		t.Errorf("unexpected topic %s", got.Topic)
	}
	key, _ := got.Key.Encode()
	if string(key) != "m1" {
		t.Errorf("expected key m1, got %s", key)
	}
	value, _ := got.Value.Encode()
	decoded, err := transport.Decode(codec.NewZstd(codec.JSON{}), value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.ID != "m1" || string(decoded.Payload) != "remind" || !decoded.FireTime.Equal(msg.FireTime) {
		t.Errorf("unexpected decoded message %+v", decoded)
	}
	if len(got.Headers) != 2 || string(got.Headers[1].Value) != "billing" {
		t.Errorf("unexpected headers %+v", got.Headers)
	}
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	var handled error
	tr := NewWithProducer(producer, WithErrorHandler(func(err error) { handled = err }))

	if err := tr.Publish(ctx, "d", transport.Message{ID: "m"}); !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Errorf("expected ErrNotLeaderForPartition, got %v", err)
	}
	if !errors.Is(handled, sarama.ErrNotLeaderForPartition) {
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

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrClientRequired) {
		t.Errorf("expected ErrClientRequired, got %v", err)
	}
}
