// Package codec provides the serialization formats used for journal records,
// snapshots and delivered messages.
//
// Supported formats:
//   - JSON (default, human-readable)
//   - MessagePack (binary, compact)
//   - Protocol Buffers (binary, via structpb for plain Go values)
//
// Any codec can be wrapped with Zstd to compress its output.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode value")
	ErrDecodeFailure = errors.New("failed to decode value")
	ErrUnknownCodec  = errors.New("unknown codec")
)

// Codec serializes values to bytes and back.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes v.
	// Returns an error wrapping ErrEncodeFailure if serialization fails.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	// Returns an error wrapping ErrDecodeFailure if deserialization fails.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type for this codec (e.g., "application/json").
	ContentType() string

	// Name returns a short identifier for this codec (e.g., "json", "msgpack").
	Name() string
}

// Default returns the default codec (JSON)
func Default() Codec {
	return JSON{}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Codec{
		"json":         func() Codec { return JSON{} },
		"msgpack":      func() Codec { return MsgPack{} },
		"proto":        func() Codec { return Proto{} },
		"json+zstd":    func() Codec { return NewZstd(JSON{}) },
		"msgpack+zstd": func() Codec { return NewZstd(MsgPack{}) },
	}
)

// Register makes a codec available to Lookup under name.
// Registering an existing name replaces it.
func Register(name string, factory func() Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns a new codec registered under name.
func Lookup(name string) (Codec, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return factory(), nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
