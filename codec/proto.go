package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto implements Codec using Protocol Buffers serialization.
//
// Value handling:
//   - If v implements proto.Message, it's marshaled directly
//   - Otherwise, v is converted to a structpb.Struct through its JSON form,
//     so any JSON-encodable struct round-trips
//
// Numbers inside a structpb.Struct are doubles; integers above 2^53 lose
// precision and should be carried as strings.
type Proto struct{}

// Encode serializes v to Protocol Buffer bytes
func (c Proto) Encode(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		data, err := proto.Marshal(m)
		if err != nil {
			return nil, errors.Join(ErrEncodeFailure, err)
		}
		return data, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Join(ErrEncodeFailure, fmt.Errorf("proto codec needs an object value: %w", err))
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes Protocol Buffer bytes into v
func (c Proto) Decode(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		if err := proto.Unmarshal(data, m); err != nil {
			return errors.Join(ErrDecodeFailure, err)
		}
		return nil
	}

	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	raw, err := protojson.Marshal(&st)
	if err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	return nil
}

// ContentType returns the MIME type for Protocol Buffers
func (c Proto) ContentType() string {
	return "application/x-protobuf"
}

// Name returns the codec identifier
func (c Proto) Name() string {
	return "proto"
}

// Compile-time check
var _ Codec = Proto{}
