package snapshot

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store
type Memory struct {
	mu     sync.RWMutex
	snaps  []Snapshot // sorted by sequence
	closed bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{}
}

// Save stores a copy of snap
func (m *Memory) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	snap.Data = append([]byte(nil), snap.Data...)

	i := sort.Search(len(m.snaps), func(i int) bool { return m.snaps[i].Sequence >= snap.Sequence })
	if i < len(m.snaps) && m.snaps[i].Sequence == snap.Sequence {
		m.snaps[i] = snap
		return nil
	}
	m.snaps = append(m.snaps, Snapshot{})
	copy(m.snaps[i+1:], m.snaps[i:])
	m.snaps[i] = snap
	return nil
}

// LoadLatest returns the newest snapshot at or below maxSeq
func (m *Memory) LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if maxSeq == 0 || m.snaps[i].Sequence <= maxSeq {
			snap := m.snaps[i]
			return &snap, nil
		}
	}
	return nil, nil
}

// Len returns the number of stored snapshots
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}

// All returns every stored snapshot in sequence order
func (m *Memory) All() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snaps...)
}

// Close marks the store closed. Stored snapshots are kept for Reopen.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen returns a new store sharing this store's snapshots, simulating a
// process restart over the same storage.
func (m *Memory) Reopen() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Memory{snaps: append([]Snapshot(nil), m.snaps...)}
}

// Compile-time check
var _ Store = (*Memory)(nil)
