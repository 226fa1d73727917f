// Package redis delivers fired messages to Redis Streams.
//
// Each destination maps to one stream, "<prefix>:<destination>". A fired
// message is appended with XADD as a single "data" field holding the
// encoded transport.Message; consumers read the stream with XREAD or
// XREADGROUP and decode it with transport.Decode.
//
// Features:
//   - Stream trimming by count (MAXLEN) or age (MINID)
//   - Pluggable codec (json, msgpack, proto, zstd variants)
//   - Health checks via PING
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/transport"
	"github.com/redis/go-redis/v9"
)

// Client defines the Redis operations the transport needs.
// Supports *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ErrClientRequired is returned when no Redis client is provided
var ErrClientRequired = errors.New("redis client is required")

// DefaultStreamPrefix prefixes destination stream names
const DefaultStreamPrefix = "futuremsg"

// Transport implements transport.Transport using Redis Streams
type Transport struct {
	status       int32
	client       Client
	codec        codec.Codec
	logger       *slog.Logger
	onError      func(error)
	streamPrefix string
	maxLen       int64         // Max stream length (0 = unlimited)
	maxAge       time.Duration // Max message age for MINID trimming (0 = unlimited)
	published    atomic.Int64
}

// New creates a new Redis transport with a pre-initialized client
func New(client Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	t := &Transport{
		status:       1,
		client:       client,
		codec:        codec.Default(),
		streamPrefix: DefaultStreamPrefix,
		logger:       transport.Logger("futuremsg.transport.redis"),
		onError:      func(error) {},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

// StreamName returns the stream a destination is delivered to.
func (t *Transport) StreamName(destination string) string {
	return t.streamPrefix + ":" + destination
}

// Publish appends msg to the destination's stream
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

	args := &redis.XAddArgs{
		Stream: t.StreamName(destination),
		Values: map[string]interface{}{
			"data":         data,
			"content_type": t.codec.ContentType(),
		},
	}

	// Apply count-based trimming (MAXLEN)
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}

	// Apply time-based trimming (MINID)
	if t.maxAge > 0 {
		minTime := time.Now().Add(-t.maxAge).UnixMilli()
		args.MinID = fmt.Sprintf("%d-0", minTime)
		args.Approx = true
	}

	id, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		t.onError(err)
		return err
	}
	t.published.Add(1)

	t.logger.Debug("published message", "destination", destination, "msg_id", msg.ID, "stream_id", id)
	return nil
}

// Close shuts down the transport. The client is owned by the caller and is
// not closed.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.logger.Debug("transport closed")
	return nil
}

// Health performs a health check on the Redis transport
func (t *Transport) Health(ctx context.Context) *transport.HealthCheckResult {
	start := time.Now()

	result := &transport.HealthCheckResult{
		CheckedAt: start,
		Details:   map[string]any{"type": "redis"},
	}

	if !t.isOpen() {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "transport is closed"
		result.Latency = time.Since(start)
		return result
	}

	if err := t.client.Ping(ctx).Err(); err != nil {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = fmt.Sprintf("redis ping failed: %v", err)
		result.Latency = time.Since(start)
		result.Details["ping_error"] = err.Error()
		return result
	}

	result.Status = transport.HealthStatusHealthy
	result.Message = "redis transport is healthy"
	result.Latency = time.Since(start)
	result.Details["ping_latency_ms"] = result.Latency.Milliseconds()
	result.Details["published"] = t.published.Load()
	result.Details["codec"] = t.codec.Name()
	return result
}

// Compile-time checks
var (
	_ transport.Transport     = (*Transport)(nil)
	_ transport.HealthChecker = (*Transport)(nil)
)
