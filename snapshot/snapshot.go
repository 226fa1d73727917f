// Package snapshot stores point-in-time dumps of the scheduler's pending
// messages.
//
// A Snapshot is tagged with the journal sequence number it covers; recovery
// loads the newest snapshot and replays only the journal records after it.
// Snapshot data is opaque bytes; the scheduler owns its encoding.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// Snapshot errors
var (
	ErrClosed = errors.New("snapshot: store closed")
)

// Snapshot is one stored state dump.
type Snapshot struct {
	// Sequence is the last journal sequence number reflected in Data.
	Sequence uint64
	// AsOf is when the dump was taken.
	AsOf time.Time
	// Count is the number of messages in Data.
	Count int
	Data  []byte
}

// Store persists snapshots.
type Store interface {
	// Save stores snap, replacing any snapshot with the same sequence.
	Save(ctx context.Context, snap Snapshot) error

	// LoadLatest returns the snapshot with the highest sequence that is
	// <= maxSeq, or nil when there is none. A maxSeq of 0 means no bound.
	LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error)

	// Close releases the store's resources.
	Close(ctx context.Context) error
}
