package futuremsg

import (
	"fmt"
	"sort"
	"sync"
)

// SnapshotStrategyFactory builds a snapshot strategy from settings.
type SnapshotStrategyFactory func(s Settings, name string) (SnapshotStrategy, error)

// AckStrategyFactory builds an acknowledgement strategy for the scheduler
// called name.
type AckStrategyFactory func(s Settings, name string) (AckStrategy, error)

var (
	registryMu         sync.RWMutex
	snapshotStrategies = map[string]SnapshotStrategyFactory{
		"every-n": func(s Settings, _ string) (SnapshotStrategy, error) {
			if s.OperationsPerSnapshot <= 0 {
				return nil, fmt.Errorf("every-n: operations-per-snapshot must be positive, got %d", s.OperationsPerSnapshot)
			}
			return EveryN{N: uint64(s.OperationsPerSnapshot)}, nil
		},
		"never": func(Settings, string) (SnapshotStrategy, error) {
			return Never{}, nil
		},
	}
	ackStrategies = map[string]AckStrategyFactory{
		"passthrough": func(s Settings, name string) (AckStrategy, error) {
			return PassthroughAck{From: name, SuppressReplay: s.SuppressReplayAcks}, nil
		},
		"noop": func(Settings, string) (AckStrategy, error) {
			return NoopAck{}, nil
		},
	}
)

// RegisterSnapshotStrategy makes a snapshot strategy selectable by name in
// Settings. Registering an existing name replaces it.
func RegisterSnapshotStrategy(name string, f SnapshotStrategyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	snapshotStrategies[name] = f
}

// RegisterAckStrategy makes an acknowledgement strategy selectable by name in
// Settings. Registering an existing name replaces it.
func RegisterAckStrategy(name string, f AckStrategyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	ackStrategies[name] = f
}

func lookupSnapshotStrategy(name string) (SnapshotStrategyFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := snapshotStrategies[name]
	return f, ok
}

func lookupAckStrategy(name string) (AckStrategyFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := ackStrategies[name]
	return f, ok
}

// SnapshotStrategies returns the registered snapshot strategy names.
func SnapshotStrategies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(snapshotStrategies)
}

// AckStrategies returns the registered acknowledgement strategy names.
func AckStrategies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(ackStrategies)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSnapshotStrategy builds the snapshot strategy named in s.
func NewSnapshotStrategy(s Settings, scheduler string) (SnapshotStrategy, error) {
	f, ok := lookupSnapshotStrategy(s.SnapshotStrategy)
	if !ok {
		return nil, fmt.Errorf("unknown snapshot strategy %q", s.SnapshotStrategy)
	}
	return f(s, scheduler)
}

// NewAckStrategy builds the acknowledgement strategy named in s.
func NewAckStrategy(s Settings, scheduler string) (AckStrategy, error) {
	f, ok := lookupAckStrategy(s.AcknowledgementStrategy)
	if !ok {
		return nil, fmt.Errorf("unknown acknowledgement strategy %q", s.AcknowledgementStrategy)
	}
	return f(s, scheduler)
}
