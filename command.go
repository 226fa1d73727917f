package futuremsg

import (
	"time"
)

// CommandKind names a command type. It is stored in journal records and
// carried by acknowledgements.
type CommandKind string

const (
	KindSchedule       CommandKind = "schedule"
	KindRecall         CommandKind = "recall"
	KindUpdateAbsolute CommandKind = "update-absolute"
	KindUpdateRelative CommandKind = "update-relative"
)

// Command is a durable mutation of the pending message set.
//
// The scheduler understands Schedule, Recall, UpdateFireTimeAbsolute and
// UpdateFireTimeRelative (as values or pointers). Any other implementation
// is rejected with ErrInvalidCommand.
type Command interface {
	CommandID() string
	Kind() CommandKind
}

// Schedule registers a message for delivery to Destination at FireTime.
// A Schedule for an id that is already pending is ignored.
type Schedule struct {
	ID          string
	Payload     []byte
	Metadata    map[string]string
	FireTime    time.Time
	Destination string
}

func (c Schedule) CommandID() string { return c.ID }
func (c Schedule) Kind() CommandKind { return KindSchedule }

// Recall cancels a pending message. Recalling an unknown or already
// delivered id is not an error.
type Recall struct {
	ID string
}

func (c Recall) CommandID() string { return c.ID }
func (c Recall) Kind() CommandKind { return KindRecall }

// UpdateFireTimeAbsolute moves a pending message to FireTime.
type UpdateFireTimeAbsolute struct {
	ID       string
	FireTime time.Time
}

func (c UpdateFireTimeAbsolute) CommandID() string { return c.ID }
func (c UpdateFireTimeAbsolute) Kind() CommandKind { return KindUpdateAbsolute }

// UpdateFireTimeRelative shifts a pending message's fire time by Delta,
// which may be negative.
type UpdateFireTimeRelative struct {
	ID    string
	Delta time.Duration
}

func (c UpdateFireTimeRelative) CommandID() string { return c.ID }
func (c UpdateFireTimeRelative) Kind() CommandKind { return KindUpdateRelative }

// normalize dereferences pointer commands and checks required fields.
func normalize(cmd Command) (Command, error) {
	switch c := cmd.(type) {
	case *Schedule:
		if c == nil {
			return nil, invalidCommand("nil schedule")
		}
		return normalize(*c)
	case *Recall:
		if c == nil {
			return nil, invalidCommand("nil recall")
		}
		return normalize(*c)
	case *UpdateFireTimeAbsolute:
		if c == nil {
			return nil, invalidCommand("nil absolute update")
		}
		return normalize(*c)
	case *UpdateFireTimeRelative:
		if c == nil {
			return nil, invalidCommand("nil relative update")
		}
		return normalize(*c)
	case Schedule:
		if c.ID == "" {
			return nil, invalidCommand("schedule without id")
		}
		if c.Destination == "" {
			return nil, invalidCommand("schedule %s without destination", c.ID)
		}
		if c.FireTime.IsZero() {
			return nil, invalidCommand("schedule %s without fire time", c.ID)
		}
		return c, nil
	case Recall:
		if c.ID == "" {
			return nil, invalidCommand("recall without id")
		}
		return c, nil
	case UpdateFireTimeAbsolute:
		if c.ID == "" {
			return nil, invalidCommand("absolute update without id")
		}
		if c.FireTime.IsZero() {
			return nil, invalidCommand("absolute update %s without fire time", c.ID)
		}
		return c, nil
	case UpdateFireTimeRelative:
		if c.ID == "" {
			return nil, invalidCommand("relative update without id")
		}
		return c, nil
	case nil:
		return nil, invalidCommand("nil command")
	default:
		return nil, invalidCommand("unsupported command type %T", cmd)
	}
}
