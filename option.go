package futuremsg

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/journal"
	"github.com/rbaliyan/futuremsg/snapshot"
	"github.com/rbaliyan/futuremsg/transport"
)

// Options configures a Scheduler.
//
// Use the With* functions to configure options:
//
//	s, err := futuremsg.New("billing",
//	    futuremsg.WithJournal(j),
//	    futuremsg.WithSnapshotStore(store),
//	    futuremsg.WithTransport(tr),
//	)
type Options struct {
	// Journal records every command before it is applied.
	// Default: journal.NewMemory()
	Journal journal.Journal

	// Snapshots stores state dumps.
	// Default: snapshot.NewMemory()
	Snapshots snapshot.Store

	// Transport delivers fired messages.
	// Default: channel.New()
	Transport transport.Transport

	// Settings holds the file-level configuration.
	// Default: DefaultSettings()
	Settings Settings

	// SnapshotStrategy overrides Settings.SnapshotStrategy.
	SnapshotStrategy SnapshotStrategy

	// AckStrategy overrides Settings.AcknowledgementStrategy.
	AckStrategy AckStrategy

	// Codec overrides Settings.Codec.
	Codec codec.Codec

	Logger *slog.Logger

	// ErrorHandler receives failures that have no caller to report to,
	// such as snapshot saves and deliveries.
	ErrorHandler func(error)

	// FixedCapacity, when positive, disables growth: the queue holds at most
	// FixedCapacity messages and Schedule fails with ErrQueueFull.
	FixedCapacity int
}

// DefaultOptions returns default scheduler options. Journal, Snapshots and
// Transport are left nil and filled in by New.
func DefaultOptions() *Options {
	return &Options{
		Settings: DefaultSettings(),
	}
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithJournal sets the command journal.
//
// Example:
//
//	j, _ := journal.OpenBadger("/var/lib/futuremsg", "billing")
//	s, _ := futuremsg.New("billing", futuremsg.WithJournal(j))
func WithJournal(j journal.Journal) Option {
	return func(o *Options) {
		if j != nil {
			o.Journal = j
		}
	}
}

// WithSnapshotStore sets the snapshot store.
func WithSnapshotStore(s snapshot.Store) Option {
	return func(o *Options) {
		if s != nil {
			o.Snapshots = s
		}
	}
}

// WithTransport sets the delivery transport.
//
// Example:
//
//	tr := redis.New(client)
//	s, _ := futuremsg.New("billing", futuremsg.WithTransport(transport.NewThrottle(tr, 100, 10)))
func WithTransport(t transport.Transport) Option {
	return func(o *Options) {
		if t != nil {
			o.Transport = t
		}
	}
}

// WithSettings replaces the file-level configuration, typically the result
// of LoadSettingsFile.
func WithSettings(s Settings) Option {
	return func(o *Options) {
		o.Settings = s
	}
}

// WithSnapshotStrategy sets a snapshot strategy directly, bypassing the
// registry.
func WithSnapshotStrategy(s SnapshotStrategy) Option {
	return func(o *Options) {
		o.SnapshotStrategy = s
	}
}

// WithAckStrategy sets an acknowledgement strategy directly, bypassing the
// registry.
func WithAckStrategy(a AckStrategy) Option {
	return func(o *Options) {
		o.AckStrategy = a
	}
}

// WithCodec sets the record codec for journal and snapshot data.
//
// Changing the codec of an existing journal makes it unreadable.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithErrorHandler sets the handler for background failures.
func WithErrorHandler(fn func(error)) Option {
	return func(o *Options) {
		o.ErrorHandler = fn
	}
}

// WithFixedCapacity caps the queue at n messages instead of growing it.
func WithFixedCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FixedCapacity = n
		}
	}
}

// WithFireEpsilon sets how early a tick may deliver a message.
func WithFireEpsilon(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.Settings.FireEpsilon = d
		}
	}
}

// WithDeliveryTimeout bounds each transport publish.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Settings.DeliveryTimeout = d
		}
	}
}
