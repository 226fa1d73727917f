package futuremsg

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/futuremsg/transport"
)

// Delivery is one message seen by a RecordingTransport.
type Delivery struct {
	Message transport.Message
	At      time.Time
}

// RecordingTransport is a transport for tests. It keeps every published
// message with its arrival time.
type RecordingTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
	notify     chan struct{}
}

// NewRecordingTransport creates an empty recording transport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{notify: make(chan struct{}, 1)}
}

// Publish records msg, or returns the error set with FailWith.
func (r *RecordingTransport) Publish(_ context.Context, _ string, msg transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deliveries = append(r.deliveries, Delivery{Message: msg, At: time.Now()})
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *RecordingTransport) Close(context.Context) error {
	return nil
}

// FailWith makes subsequent publishes fail with err. A nil err restores
// normal operation.
func (r *RecordingTransport) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Deliveries returns a copy of everything recorded so far.
func (r *RecordingTransport) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// IDs returns the recorded message ids in delivery order.
func (r *RecordingTransport) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.deliveries))
	for i, d := range r.deliveries {
		ids[i] = d.Message.ID
	}
	return ids
}

// WaitFor blocks until n messages were recorded or timeout elapses, and
// reports whether n was reached.
func (r *RecordingTransport) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		got := len(r.deliveries)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}

var _ transport.Transport = (*RecordingTransport)(nil)
