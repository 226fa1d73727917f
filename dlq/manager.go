package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/futuremsg"
	"github.com/rbaliyan/futuremsg/transport"
)

// Metadata keys added to replayed messages.
const (
	MetaReplay        = "dlq_replay"
	MetaDeadLetterID  = "dlq_message_id"
	MetaOriginalError = "dlq_original_error"
)

// Manager records failed deliveries and replays them through a transport.
type Manager struct {
	store     Store
	transport transport.Transport
	logger    *slog.Logger
	timeout   time.Duration
}

// NewManager creates a manager. t is used by Replay and may be nil if
// replay is never needed.
func NewManager(store Store, t transport.Transport) *Manager {
	return &Manager{
		store:     store,
		transport: t,
		logger:    transport.Logger("futuremsg.dlq"),
		timeout:   5 * time.Second,
	}
}

// WithLogger sets the logger
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l
	return m
}

// WithTimeout bounds how long Handler waits on the store
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.timeout = d
	}
	return m
}

// Handler returns an error handler for futuremsg.WithErrorHandler. Delivery
// failures are stored; every error, stored or not, is then passed to next
// when it is non-nil.
func (m *Manager) Handler(next func(error)) func(error) {
	return func(err error) {
		var de *futuremsg.DeliveryError
		if errors.As(err, &de) {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			if _, serr := m.Record(ctx, de); serr != nil {
				m.logger.Error("failed to dead-letter delivery", "id", de.ID, "error", serr)
			}
			cancel()
		}
		if next != nil {
			next(err)
		}
	}
}

// Record stores a failed delivery and returns the dead letter.
func (m *Manager) Record(ctx context.Context, de *futuremsg.DeliveryError) (*Message, error) {
	msg := &Message{
		ID:          transport.NewID(),
		OriginalID:  de.ID,
		Source:      de.Message.Source,
		Destination: de.Destination,
		Payload:     de.Message.Payload,
		Metadata:    de.Message.Metadata,
		FireTime:    de.Message.FireTime,
		Error:       de.Err.Error(),
		CreatedAt:   time.Now(),
	}
	if err := m.store.Store(ctx, msg); err != nil {
		return nil, fmt.Errorf("store dead letter: %w", err)
	}
	m.logger.Info("dead-lettered delivery",
		"id", msg.ID,
		"original_id", msg.OriginalID,
		"destination", msg.Destination)
	return msg, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Message, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter Filter) ([]*Message, error) {
	return m.store.List(ctx, filter)
}

func (m *Manager) Count(ctx context.Context, filter Filter) (int64, error) {
	return m.store.Count(ctx, filter)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Replay republishes every dead letter matching filter and marks it
// retried. A message that fails again stays in the store unmarked.
// It returns how many were republished.
func (m *Manager) Replay(ctx context.Context, filter Filter) (int, error) {
	msgs, err := m.store.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}

	replayed := 0
	for _, msg := range msgs {
		if err := m.replay(ctx, msg); err != nil {
			m.logger.Error("replay failed", "id", msg.ID, "destination", msg.Destination, "error", err)
			continue
		}
		replayed++
	}
	m.logger.Info("replayed dead letters", "total", len(msgs), "replayed", replayed)
	return replayed, nil
}

// ReplaySingle republishes one dead letter.
func (m *Manager) ReplaySingle(ctx context.Context, id string) error {
	msg, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.replay(ctx, msg)
}

func (m *Manager) replay(ctx context.Context, msg *Message) error {
	if m.transport == nil {
		return errors.New("dlq: no transport configured")
	}
	metadata := make(map[string]string, len(msg.Metadata)+3)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	metadata[MetaReplay] = "true"
	metadata[MetaDeadLetterID] = msg.ID
	metadata[MetaOriginalError] = msg.Error

	out := transport.Message{
		ID:          msg.OriginalID,
		Source:      msg.Source,
		Destination: msg.Destination,
		Payload:     msg.Payload,
		Metadata:    metadata,
		FireTime:    msg.FireTime,
	}
	if err := m.transport.Publish(ctx, msg.Destination, out); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := m.store.MarkRetried(ctx, msg.ID); err != nil {
		return fmt.Errorf("mark retried: %w", err)
	}
	return nil
}

// Cleanup deletes dead letters older than age.
func (m *Manager) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	n, err := m.store.DeleteOlderThan(ctx, age)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("cleaned up dead letters", "deleted", n, "older_than", age)
	}
	return n, nil
}

// Stats summarizes the store.
type Stats struct {
	Total   int64
	Pending int64
	Retried int64
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	total, err := m.store.Count(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}
	pending, err := m.store.Count(ctx, Filter{ExcludeRetried: true})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: total, Pending: pending, Retried: total - pending}, nil
}
