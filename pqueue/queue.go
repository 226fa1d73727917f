// Package pqueue implements an indexed min-heap keyed by fire time.
//
// Entries are addressed by a string identifier, so removal and
// re-prioritisation run in O(log n) without scanning. Entries with equal fire
// times are ordered by insertion, and an update keeps the original insertion
// order of the entry it moves.
//
// A Queue is not safe for concurrent use. It is meant to be owned by a single
// goroutine.
package pqueue

import (
	"container/heap"
	"errors"
	"sort"
	"time"
)

// ErrFull is returned by Push when the queue holds Cap entries.
var ErrFull = errors.New("pqueue: queue is full")

// Item is one entry of the queue.
type Item[V any] struct {
	ID       string
	FireTime time.Time
	Value    V

	seq   uint64
	index int
}

// Queue is a capacity-bounded indexed min-heap.
type Queue[V any] struct {
	heap     itemHeap[V]
	byID     map[string]*Item[V]
	capacity int
	nextSeq  uint64
}

// New creates a queue with the given initial capacity.
// A non-positive capacity is treated as 1.
func New[V any](capacity int) *Queue[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[V]{
		heap:     make(itemHeap[V], 0, capacity),
		byID:     make(map[string]*Item[V], capacity),
		capacity: capacity,
	}
}

// Push inserts a new entry. It returns false when the id is already present,
// leaving the existing entry untouched, and ErrFull when no room is left.
func (q *Queue[V]) Push(id string, fireTime time.Time, value V) (bool, error) {
	if _, ok := q.byID[id]; ok {
		return false, nil
	}
	if len(q.heap) >= q.capacity {
		return false, ErrFull
	}
	q.nextSeq++
	it := &Item[V]{ID: id, FireTime: fireTime, Value: value, seq: q.nextSeq}
	heap.Push(&q.heap, it)
	q.byID[id] = it
	return true, nil
}

// Remove deletes the entry with the given id.
func (q *Queue[V]) Remove(id string) bool {
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, id)
	return true
}

// Update changes the fire time of an existing entry.
func (q *Queue[V]) Update(id string, fireTime time.Time) bool {
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	it.FireTime = fireTime
	heap.Fix(&q.heap, it.index)
	return true
}

// Get returns the entry with the given id.
func (q *Queue[V]) Get(id string) (*Item[V], bool) {
	it, ok := q.byID[id]
	return it, ok
}

// Peek returns the entry with the earliest fire time without removing it.
func (q *Queue[V]) Peek() (*Item[V], bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap[0], true
}

// Pop removes and returns the entry with the earliest fire time.
func (q *Queue[V]) Pop() (*Item[V], bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*Item[V])
	delete(q.byID, it.ID)
	return it, true
}

// Len returns the number of entries.
func (q *Queue[V]) Len() int { return len(q.heap) }

// Cap returns the current capacity.
func (q *Queue[V]) Cap() int { return q.capacity }

// Grow raises the capacity by n. Entries and their order are preserved.
func (q *Queue[V]) Grow(n int) {
	if n <= 0 {
		return
	}
	q.capacity += n
	if cap(q.heap) < q.capacity {
		grown := make(itemHeap[V], len(q.heap), q.capacity)
		copy(grown, q.heap)
		q.heap = grown
	}
}

// Items returns a copy of every entry in delivery order.
func (q *Queue[V]) Items() []Item[V] {
	out := make([]Item[V], 0, len(q.heap))
	for _, it := range q.heap {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	for i := range out {
		out[i].index = -1
	}
	return out
}

func less[V any](a, b *Item[V]) bool {
	if a.FireTime.Equal(b.FireTime) {
		return a.seq < b.seq
	}
	return a.FireTime.Before(b.FireTime)
}

// itemHeap satisfies heap.Interface and keeps Item.index in step with the
// slice position so Remove and Fix can address entries directly.
type itemHeap[V any] []*Item[V]

func (h itemHeap[V]) Len() int           { return len(h) }
func (h itemHeap[V]) Less(i, j int) bool { return less(h[i], h[j]) }

func (h itemHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[V]) Push(x any) {
	it := x.(*Item[V])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[V]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
