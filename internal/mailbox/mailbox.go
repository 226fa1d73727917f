// Package mailbox provides an unbounded FIFO channel for single-consumer
// worker goroutines.
package mailbox

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox buffers sent values without bound and hands them to a single
// reader in send order.
type Mailbox[T any] struct {
	in   chan T
	out  chan T
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	leftover []T
	stopped  chan struct{}
}

// New starts a mailbox pump.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		in:      make(chan T),
		out:     make(chan T),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.pump()
	return m
}

// Send enqueues v. It never blocks on a slow reader.
func (m *Mailbox[T]) Send(v T) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.in <- v:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// Receive returns the channel the owning worker reads from. The channel is
// closed once the mailbox is closed.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.out
}

// Close stops the pump and returns every value that was sent but not yet
// received. Calling Close more than once returns nil.
func (m *Mailbox[T]) Close() []T {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	<-m.stopped
	return m.leftover
}

func (m *Mailbox[T]) pump() {
	defer close(m.stopped)
	defer close(m.out)

	var queue []T
	for {
		if len(queue) == 0 {
			select {
			case v := <-m.in:
				queue = append(queue, v)
			case <-m.done:
				return
			}
			continue
		}
		select {
		case v := <-m.in:
			queue = append(queue, v)
		case m.out <- queue[0]:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		case <-m.done:
			m.leftover = queue
			return
		}
	}
}
