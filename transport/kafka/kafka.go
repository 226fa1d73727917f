// Package kafka delivers fired messages to Kafka topics.
//
// Each destination maps to one topic. Messages are produced synchronously,
// keyed by message ID so every firing of the same message lands on the same
// partition, with the encoded transport.Message as the value.
//
// Recommended sarama.Config settings:
//
//	config := sarama.NewConfig()
//	config.Producer.Return.Successes = true // required by SyncProducer
//	config.Producer.RequiredAcks = sarama.WaitForAll
//	config.Producer.Idempotent = true
//	config.Net.MaxOpenRequests = 1
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/transport"
)

// Errors
var (
	ErrClientRequired = errors.New("kafka client is required")
	ErrProducerFailed = errors.New("failed to create kafka producer")
)

// Header keys set on every produced record
const (
	HeaderContentType = "content-type"
	HeaderSource      = "futuremsg-source"
)

// Transport implements transport.Transport using a Kafka SyncProducer
type Transport struct {
	status      int32
	producer    sarama.SyncProducer
	ownProducer bool
	codec       codec.Codec
	topicPrefix string
	logger      *slog.Logger
	onError     func(error)
}

// New creates a transport producing through client. The client is owned by
// the caller; the producer created from it is closed by Close.
func New(client sarama.Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errors.Join(ErrProducerFailed, err)
	}
	t := NewWithProducer(producer, opts...)
	t.ownProducer = true
	return t, nil
}

// NewWithProducer creates a transport over an existing producer, which the
// caller keeps ownership of.
func NewWithProducer(producer sarama.SyncProducer, opts ...Option) *Transport {
	t := &Transport{
		status:   1,
		producer: producer,
		codec:    codec.Default(),
		logger:   transport.Logger("futuremsg.transport.kafka"),
		onError:  func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

// Topic returns the topic a destination is delivered to.
func (t *Transport) Topic(destination string) string {
	return t.topicPrefix + destination
}

// Publish produces msg to the destination topic and waits for the broker ack
func (t *Transport) Publish(ctx context.Context, destination string, msg transport.Message) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if destination == "" {
		return transport.ErrNoDestination
	}

	data, err := transport.Encode(t.codec, msg)
	if err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic: t.Topic(destination),
		Key:   sarama.StringEncoder(msg.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderContentType), Value: []byte(t.codec.ContentType())},
			{Key: []byte(HeaderSource), Value: []byte(msg.Source)},
		},
		Timestamp: msg.FireTime,
	}

	partition, offset, err := t.producer.SendMessage(record)
	if err != nil {
		t.onError(err)
		return err
	}

	t.logger.Debug("published message", "topic", record.Topic, "msg_id", msg.ID,
		"partition", partition, "offset", offset)
	return nil
}

// Close shuts down the transport, closing the producer if New created it
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	var err error
	if t.ownProducer {
		err = t.producer.Close()
	}
	t.logger.Debug("transport closed")
	return err
}

// Compile-time check
var _ transport.Transport = (*Transport)(nil)
