package futuremsg

import (
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
)

// commandRecord is the journal form of a Command. Times are kept as
// RFC3339Nano strings so every codec round-trips them exactly.
type commandRecord struct {
	Kind        CommandKind       `json:"kind"`
	ID          string            `json:"id"`
	Payload     []byte            `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FireTime    string            `json:"fire_time,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Delta       string            `json:"delta,omitempty"`
}

// EncodeCommand serializes cmd for the journal.
func EncodeCommand(c codec.Codec, cmd Command) ([]byte, error) {
	cmd, err := normalize(cmd)
	if err != nil {
		return nil, err
	}
	rec := commandRecord{Kind: cmd.Kind(), ID: cmd.CommandID()}
	switch v := cmd.(type) {
	case Schedule:
		rec.Payload = v.Payload
		rec.Metadata = v.Metadata
		rec.FireTime = formatTime(v.FireTime)
		rec.Destination = v.Destination
	case UpdateFireTimeAbsolute:
		rec.FireTime = formatTime(v.FireTime)
	case UpdateFireTimeRelative:
		rec.Delta = v.Delta.String()
	}
	return c.Encode(rec)
}

// DecodeCommand reverses EncodeCommand.
func DecodeCommand(c codec.Codec, data []byte) (Command, error) {
	var rec commandRecord
	if err := c.Decode(data, &rec); err != nil {
		return nil, err
	}
	switch rec.Kind {
	case KindSchedule:
		fireTime, err := parseTime(rec.FireTime)
		if err != nil {
			return nil, err
		}
		return Schedule{
			ID:          rec.ID,
			Payload:     rec.Payload,
			Metadata:    rec.Metadata,
			FireTime:    fireTime,
			Destination: rec.Destination,
		}, nil
	case KindRecall:
		return Recall{ID: rec.ID}, nil
	case KindUpdateAbsolute:
		fireTime, err := parseTime(rec.FireTime)
		if err != nil {
			return nil, err
		}
		return UpdateFireTimeAbsolute{ID: rec.ID, FireTime: fireTime}, nil
	case KindUpdateRelative:
		delta, err := time.ParseDuration(rec.Delta)
		if err != nil {
			return nil, errors.Join(codec.ErrDecodeFailure, fmt.Errorf("delta: %w", err))
		}
		return UpdateFireTimeRelative{ID: rec.ID, Delta: delta}, nil
	default:
		return nil, invalidCommand("unknown record kind %q", rec.Kind)
	}
}

type messageRecord struct {
	ID          string            `json:"id"`
	Payload     []byte            `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FireTime    string            `json:"fire_time"`
	Destination string            `json:"destination"`
}

type snapshotRecord struct {
	Messages []messageRecord `json:"messages"`
}

// EncodeMessages serializes a state dump for the snapshot store.
func EncodeMessages(c codec.Codec, msgs []ScheduledMessage) ([]byte, error) {
	rec := snapshotRecord{Messages: make([]messageRecord, 0, len(msgs))}
	for _, m := range msgs {
		rec.Messages = append(rec.Messages, messageRecord{
			ID:          m.ID,
			Payload:     m.Payload,
			Metadata:    m.Metadata,
			FireTime:    formatTime(m.FireTime),
			Destination: m.Destination,
		})
	}
	return c.Encode(rec)
}

// DecodeMessages reverses EncodeMessages.
func DecodeMessages(c codec.Codec, data []byte) ([]ScheduledMessage, error) {
	var rec snapshotRecord
	if err := c.Decode(data, &rec); err != nil {
		return nil, err
	}
	msgs := make([]ScheduledMessage, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		fireTime, err := parseTime(m.FireTime)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, ScheduledMessage{
			ID:          m.ID,
			Payload:     m.Payload,
			Metadata:    m.Metadata,
			FireTime:    fireTime,
			Destination: m.Destination,
		})
	}
	return msgs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(codec.ErrDecodeFailure, fmt.Errorf("fire time: %w", err))
	}
	return t, nil
}
