package journal

import (
	"context"
	"sync"
)

// Memory is an in-memory Journal.
type Memory struct {
	mu      sync.RWMutex
	entries [][]byte
	closed  bool
}

// NewMemory creates an empty in-memory journal
func NewMemory() *Memory {
	return &Memory{}
}

// Append stores a copy of data
func (m *Memory) Append(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.entries = append(m.entries, append([]byte(nil), data...))
	return uint64(len(m.entries)), nil
}

// Replay calls fn for each stored record from the given sequence
func (m *Memory) Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := m.entries
	m.mu.RUnlock()

	if from < 1 {
		from = 1
	}
	for seq := from; seq <= uint64(len(entries)); seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(seq, entries[seq-1]); err != nil {
			return err
		}
	}
	return nil
}

// LastSequence returns the number of stored records
func (m *Memory) LastSequence(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.entries)), nil
}

// Close marks the journal closed. Stored records are kept so a test can
// reopen them with Reopen.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen returns a new journal sharing this journal's records, simulating a
// process restart over the same storage.
func (m *Memory) Reopen() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Memory{entries: append([][]byte(nil), m.entries...)}
}

// Compile-time check
var _ Journal = (*Memory)(nil)
