// Package idempotency suppresses repeated deliveries of the same fired
// message.
//
// A scheduler that crashes after handing a message to its transport but
// before journaling the removal will fire that message again on recovery.
// Wrapping the transport with NewTransport records every delivery in a Store
// and drops any later attempt with the same key.
package idempotency

import (
	"context"
	"strconv"
	"time"

	"github.com/rbaliyan/futuremsg/transport"
)

// Store remembers delivery keys for a bounded time.
//
// Implementations:
//   - MemoryStore: single process, lost on restart
//   - RedisStore: shared across instances, expiry handled by Redis
//   - SQLStore: database/sql table, survives restarts with the journal
type Store interface {
	// IsDuplicate reports whether key was marked and has not expired.
	IsDuplicate(ctx context.Context, key string) (bool, error)

	// MarkProcessed records key with the store's default TTL.
	MarkProcessed(ctx context.Context, key string) error

	// MarkProcessedWithTTL records key with a custom TTL.
	MarkProcessedWithTTL(ctx context.Context, key string, ttl time.Duration) error

	// Remove forgets key. Removing an unknown key is not an error.
	Remove(ctx context.Context, key string) error
}

// Key identifies one firing of msg. A message rescheduled under the same ID
// gets a new fire time and therefore a new key.
func Key(msg transport.Message) string {
	return msg.Source + "/" + msg.ID + "@" + strconv.FormatInt(msg.FireTime.UnixNano(), 10)
}
