// Package transport delivers fired messages to their destinations.
//
// Transport implementations (channel, redis, nats, kafka) live in
// subpackages and import this package for the shared Message type, so the
// scheduler never depends on a concrete broker. Delivery is fire-and-forget:
// a Transport reports whether the hand-off succeeded, never whether the
// destination processed the message.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/futuremsg/codec"
	"go.opentelemetry.io/otel/trace"
)

// Transport errors
var (
	ErrTransportClosed    = errors.New("transport closed")
	ErrNoDestination      = errors.New("no destination")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrPublishTimeout     = errors.New("publish timeout")
	ErrCircuitOpen        = errors.New("circuit open")
)

// Message is a scheduled message handed to a destination when it fires.
type Message struct {
	ID          string
	Source      string
	Destination string
	Payload     []byte
	Metadata    map[string]string
	FireTime    time.Time

	// SpanContext links the delivery to the span that scheduled it.
	SpanContext trace.SpanContext
}

// Context returns a context carrying the message's remote span.
func (m Message) Context() context.Context {
	return trace.ContextWithRemoteSpanContext(context.Background(), m.SpanContext)
}

// wireMessage is the encoded form used by broker transports.
type wireMessage struct {
	ID          string            `json:"id"`
	Source      string            `json:"source,omitempty"`
	Destination string            `json:"destination"`
	Payload     []byte            `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FireTime    string            `json:"fire_time"`
	TraceID     string            `json:"trace_id,omitempty"`
	SpanID      string            `json:"span_id,omitempty"`
}

// Encode serializes msg with c.
func Encode(c codec.Codec, msg Message) ([]byte, error) {
	wm := wireMessage{
		ID:          msg.ID,
		Source:      msg.Source,
		Destination: msg.Destination,
		Payload:     msg.Payload,
		Metadata:    msg.Metadata,
		FireTime:    msg.FireTime.UTC().Format(time.RFC3339Nano),
	}
	if msg.SpanContext.IsValid() {
		wm.TraceID = msg.SpanContext.TraceID().String()
		wm.SpanID = msg.SpanContext.SpanID().String()
	}
	return c.Encode(wm)
}

// Decode deserializes a message produced by Encode.
func Decode(c codec.Codec, data []byte) (Message, error) {
	var wm wireMessage
	if err := c.Decode(data, &wm); err != nil {
		return Message{}, err
	}
	fireTime, err := time.Parse(time.RFC3339Nano, wm.FireTime)
	if err != nil {
		return Message{}, errors.Join(codec.ErrDecodeFailure, fmt.Errorf("fire time: %w", err))
	}
	msg := Message{
		ID:          wm.ID,
		Source:      wm.Source,
		Destination: wm.Destination,
		Payload:     wm.Payload,
		Metadata:    wm.Metadata,
		FireTime:    fireTime,
	}
	if wm.TraceID != "" {
		traceID, terr := trace.TraceIDFromHex(wm.TraceID)
		spanID, serr := trace.SpanIDFromHex(wm.SpanID)
		if terr == nil && serr == nil {
			msg.SpanContext = trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: traceID,
				SpanID:  spanID,
				Remote:  true,
			})
		}
	}
	return msg, nil
}

// Transport hands fired messages to destinations.
type Transport interface {
	// Publish sends msg to destination. It returns once the underlying
	// medium accepted the message.
	Publish(ctx context.Context, destination string, msg Message) error

	// Close releases the transport's resources.
	Close(ctx context.Context) error
}

// Subscription represents a consumer's connection to a destination
type Subscription interface {
	// ID returns the unique subscription identifier
	ID() string

	// Messages returns the channel to receive messages
	Messages() <-chan Message

	// Close unsubscribes and closes the message channel
	Close(ctx context.Context) error
}

// HealthStatus represents the health state of a component
type HealthStatus string

const (
	// HealthStatusHealthy indicates the component is functioning normally
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy indicates the component is not functioning
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult contains detailed health information
type HealthCheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Latency   time.Duration  `json:"latency,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// IsHealthy returns true if the status is healthy
func (h *HealthCheckResult) IsHealthy() bool {
	return h.Status == HealthStatusHealthy
}

// HealthChecker is an optional interface that transports can implement
// to provide health check capabilities for readiness checks.
type HealthChecker interface {
	Health(ctx context.Context) *HealthCheckResult
}

// ID generation
var counter uint64

// NewID generates a new unique ID
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
