package futuremsg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
	"gopkg.in/yaml.v3"
)

// Settings is the file-level scheduler configuration.
//
// Example futuremsg.yaml:
//
//	default-queue-size: 256
//	operations-per-snapshot: 500
//	snapshot-strategy: every-n
//	acknowledgement-strategy: passthrough
//	fire-epsilon: 20ms
//	codec: msgpack+zstd
type Settings struct {
	// DefaultQueueSize is the initial queue capacity and the growth step.
	DefaultQueueSize int `yaml:"default-queue-size"`

	// OperationsPerSnapshot is N for the every-n snapshot strategy.
	OperationsPerSnapshot int `yaml:"operations-per-snapshot"`

	SnapshotStrategy        string `yaml:"snapshot-strategy"`
	AcknowledgementStrategy string `yaml:"acknowledgement-strategy"`

	// FireEpsilon lets a tick deliver messages due slightly in the future.
	FireEpsilon time.Duration `yaml:"fire-epsilon"`

	// SuppressReplayAcks stops the passthrough strategy from replying to
	// commands replayed during recovery.
	SuppressReplayAcks bool `yaml:"suppress-replay-acks"`

	// Codec names the record codec for journal and snapshot data.
	Codec string `yaml:"codec"`

	// DeliveryTimeout bounds one transport publish.
	DeliveryTimeout time.Duration `yaml:"delivery-timeout"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		DefaultQueueSize:        128,
		OperationsPerSnapshot:   100,
		SnapshotStrategy:        "every-n",
		AcknowledgementStrategy: "passthrough",
		FireEpsilon:             50 * time.Millisecond,
		SuppressReplayAcks:      true,
		Codec:                   "json",
		DeliveryTimeout:         5 * time.Second,
	}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.DefaultQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("default-queue-size must be positive, got %d", s.DefaultQueueSize))
	}
	if s.OperationsPerSnapshot <= 0 {
		errs = append(errs, fmt.Errorf("operations-per-snapshot must be positive, got %d", s.OperationsPerSnapshot))
	}
	if s.FireEpsilon < 0 {
		errs = append(errs, fmt.Errorf("fire-epsilon must not be negative, got %s", s.FireEpsilon))
	}
	if s.DeliveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("delivery-timeout must be positive, got %s", s.DeliveryTimeout))
	}
	if _, ok := lookupSnapshotStrategy(s.SnapshotStrategy); !ok {
		errs = append(errs, fmt.Errorf("unknown snapshot-strategy %q", s.SnapshotStrategy))
	}
	if _, ok := lookupAckStrategy(s.AcknowledgementStrategy); !ok {
		errs = append(errs, fmt.Errorf("unknown acknowledgement-strategy %q", s.AcknowledgementStrategy))
	}
	if _, err := codec.Lookup(s.Codec); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadSettings reads YAML settings from r. Keys missing from r keep their
// default values.
func LoadSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettingsFile reads YAML settings from path.
func LoadSettingsFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	return LoadSettings(f)
}
