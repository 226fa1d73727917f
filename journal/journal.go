// Package journal provides append-only command logs for the scheduler.
//
// A Journal assigns each appended record the next sequence number, starting
// at 1, and replays records in sequence order. Records are opaque bytes; the
// scheduler owns their encoding.
//
// Implementations:
//   - Memory: in-process, for tests and ephemeral schedulers
//   - Badger: embedded on-disk store
//   - Redis: one stream per journal
//   - Mongo: one collection, one document per record
//   - SQL: one table, PostgreSQL placeholders
package journal

import (
	"context"
	"errors"
)

// Journal errors
var (
	ErrClosed = errors.New("journal: closed")
)

// Journal is an append-only, sequence-numbered log.
//
// Implementations must be safe for concurrent use, although the scheduler
// only appends from one goroutine.
type Journal interface {
	// Append durably stores data and returns its sequence number.
	Append(ctx context.Context, data []byte) (uint64, error)

	// Replay calls fn for every record with sequence >= from, in order.
	// Replay stops at the first error returned by fn and returns it.
	Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error

	// LastSequence returns the highest assigned sequence number, or 0 when
	// the journal is empty.
	LastSequence(ctx context.Context) (uint64, error)

	// Close releases the journal's resources.
	Close(ctx context.Context) error
}
