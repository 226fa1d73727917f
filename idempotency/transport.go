package idempotency

import (
	"context"
	"log/slog"

	"github.com/rbaliyan/futuremsg/transport"
)

// Transport drops deliveries whose Key is already in the store.
//
// A store error on lookup does not block delivery: a duplicate is preferred
// over a lost message. A failed mark is logged and the publish still
// succeeds.
type Transport struct {
	next   transport.Transport
	store  Store
	logger *slog.Logger
}

// NewTransport wraps next with duplicate suppression backed by store.
func NewTransport(next transport.Transport, store Store) *Transport {
	return &Transport{
		next:   next,
		store:  store,
		logger: transport.Logger("futuremsg.idempotency"),
	}
}

// WithLogger sets the logger
func (t *Transport) WithLogger(l *slog.Logger) *Transport {
	t.logger = l
	return t
}

func (t *Transport) Publish(ctx context.Context, destination string, msg transport.Message) error {
	key := Key(msg)

	dup, err := t.store.IsDuplicate(ctx, key)
	if err != nil {
		t.logger.Warn("dedup lookup failed, delivering anyway", "id", msg.ID, "error", err)
	} else if dup {
		t.logger.Info("suppressed duplicate delivery", "id", msg.ID, "destination", destination)
		return nil
	}

	if err := t.next.Publish(ctx, destination, msg); err != nil {
		return err
	}

	if err := t.store.MarkProcessed(ctx, key); err != nil {
		t.logger.Warn("failed to record delivery", "id", msg.ID, "error", err)
	}
	return nil
}

func (t *Transport) Close(ctx context.Context) error {
	return t.next.Close(ctx)
}

var _ transport.Transport = (*Transport)(nil)
