package futuremsg

import (
	"maps"
	"time"
)

// ScheduledMessage is a message waiting for its fire time.
type ScheduledMessage struct {
	ID          string
	Payload     []byte
	Metadata    map[string]string
	FireTime    time.Time
	Destination string
}

func newScheduledMessage(c Schedule) ScheduledMessage {
	var metadata map[string]string
	if c.Metadata != nil {
		metadata = maps.Clone(c.Metadata)
	}
	return ScheduledMessage{
		ID:          c.ID,
		Payload:     append([]byte(nil), c.Payload...),
		Metadata:    metadata,
		FireTime:    c.FireTime,
		Destination: c.Destination,
	}
}

// schedule turns a recovered message back into the command that created it.
func (m ScheduledMessage) schedule() Schedule {
	return Schedule{
		ID:          m.ID,
		Payload:     m.Payload,
		Metadata:    m.Metadata,
		FireTime:    m.FireTime,
		Destination: m.Destination,
	}
}

// State is a point-in-time dump of the pending messages in fire order.
type State struct {
	// Sequence is the journal sequence the dump was requested at.
	Sequence uint64
	AsOf     time.Time
	Messages []ScheduledMessage
}

// Stats reports the manager's queue occupancy.
type Stats struct {
	Pending  int
	Capacity int
}
