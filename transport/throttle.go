package transport

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle limits the delivery rate of another transport.
//
// Each destination gets its own token bucket, so a burst of messages due at
// the same instant for one destination does not starve the others.
//
// Example:
//
//	// 100 deliveries/second per destination, with bursts of 10
//	tr := transport.NewThrottle(redis.New(client), 100, 10)
type Throttle struct {
	next  Transport
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle wraps next with a per-destination token bucket.
func NewThrottle(next Transport, rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		next:     next,
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) limiter(destination string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[destination]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[destination] = l
	}
	return l
}

// Publish waits for a token and forwards msg.
// Returns the context error if the wait is cancelled.
func (t *Throttle) Publish(ctx context.Context, destination string, msg Message) error {
	if err := t.limiter(destination).Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", destination, err)
	}
	return t.next.Publish(ctx, destination, msg)
}

// Close closes the wrapped transport.
func (t *Throttle) Close(ctx context.Context) error {
	return t.next.Close(ctx)
}

// Compile-time interface check
var _ Transport = (*Throttle)(nil)
