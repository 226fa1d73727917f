// Package dlq keeps messages whose delivery failed so they can be inspected
// and replayed.
//
// A Scheduler does not retry a delivery its transport rejected; the message
// has already left the queue. Plug Manager.Handler into the scheduler's error
// handler to capture those messages instead of only logging them:
//
//	dead := dlq.NewManager(dlq.NewMemoryStore(), tr)
//	s, _ := futuremsg.New("billing",
//	    futuremsg.WithTransport(tr),
//	    futuremsg.WithErrorHandler(dead.Handler(nil)),
//	)
package dlq

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a dead letter does not exist.
var ErrNotFound = errors.New("dlq: message not found")

// Message is a dead letter: a fired message its transport did not accept.
type Message struct {
	ID          string            // dead letter ID (generated)
	OriginalID  string            // scheduled message ID
	Source      string            // scheduler that fired it
	Destination string            // where it was going
	Payload     []byte            // original payload
	Metadata    map[string]string // original metadata
	FireTime    time.Time         // when it fired
	Error       string            // why delivery failed
	CreatedAt   time.Time         // when it was dead-lettered
	RetriedAt   *time.Time        // last replay, nil if never
}

// Filter selects dead letters. Zero fields match everything.
type Filter struct {
	Destination    string
	Source         string
	StartTime      time.Time // CreatedAt at or after
	EndTime        time.Time // CreatedAt at or before
	Error          string    // substring of Error
	ExcludeRetried bool
	Limit          int
	Offset         int
}

// Matches reports whether msg passes every condition of f except paging.
func (f Filter) Matches(msg *Message) bool {
	if f.Destination != "" && msg.Destination != f.Destination {
		return false
	}
	if f.Source != "" && msg.Source != f.Source {
		return false
	}
	if !f.StartTime.IsZero() && msg.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && msg.CreatedAt.After(f.EndTime) {
		return false
	}
	if f.Error != "" && !strings.Contains(msg.Error, f.Error) {
		return false
	}
	if f.ExcludeRetried && msg.RetriedAt != nil {
		return false
	}
	return true
}

// page applies Offset and Limit to msgs.
func (f Filter) page(msgs []*Message) []*Message {
	if f.Offset >= len(msgs) {
		return nil
	}
	msgs = msgs[f.Offset:]
	if f.Limit > 0 && len(msgs) > f.Limit {
		msgs = msgs[:f.Limit]
	}
	return msgs
}

// Store persists dead letters. List returns messages oldest first.
type Store interface {
	Store(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	List(ctx context.Context, filter Filter) ([]*Message, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	MarkRetried(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
