package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the per-destination circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// ResetTimeout is how long the circuit stays open before a trial delivery.
	ResetTimeout time.Duration
	Logger       *slog.Logger
}

// Breaker stops publishing to a destination that keeps failing.
//
// While a destination's circuit is open, Publish fails fast with
// ErrCircuitOpen instead of waiting on the broker.
type Breaker struct {
	next   Transport
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreaker wraps next with per-destination circuit breakers.
func NewBreaker(next Transport, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = Logger("transport>breaker")
	}
	return &Breaker{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breaker) breaker(destination string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[destination]
	if !ok {
		threshold := b.cfg.FailureThreshold
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        destination,
			MaxRequests: 1,
			Timeout:     b.cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				b.logger.Warn("delivery circuit breaker state changed",
					slog.String("destination", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		b.breakers[destination] = cb
	}
	return cb
}

// State returns the circuit state for destination.
func (b *Breaker) State(destination string) gobreaker.State {
	return b.breaker(destination).State()
}

// Publish forwards msg unless the destination's circuit is open.
func (b *Breaker) Publish(ctx context.Context, destination string, msg Message) error {
	_, err := b.breaker(destination).Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, destination, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, destination)
	}
	return err
}

// Close closes the wrapped transport.
func (b *Breaker) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

// Compile-time interface check
var _ Transport = (*Breaker)(nil)
