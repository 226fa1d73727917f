package journal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis API used by Redis.
// *redis.Client, *redis.ClusterClient and redis.Cmdable satisfy it.
type RedisClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// Redis stores a journal in a Redis stream.
//
// Redis Data Structure:
//   - Stream: {prefix}{name} - entry id "{seq}-1", field "data"
//
// Entry ids are set explicitly from the sequence number, so Redis itself
// rejects a second writer that appends out of order.
type Redis struct {
	client    RedisClient
	key       string
	batchSize int64

	mu     sync.Mutex
	last   uint64
	loaded bool
}

// NewRedis creates a journal stored in the stream "futuremsg:journal:{name}".
func NewRedis(client RedisClient, name string) *Redis {
	return &Redis{
		client:    client,
		key:       "futuremsg:journal:" + name,
		batchSize: 100,
	}
}

// WithKey overrides the stream key
func (r *Redis) WithKey(key string) *Redis {
	r.key = key
	return r
}

// WithBatchSize sets how many entries Replay reads per round trip
func (r *Redis) WithBatchSize(n int64) *Redis {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Redis) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	msgs, err := r.client.XRevRangeN(ctx, r.key, "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("xrevrange: %w", err)
	}
	if len(msgs) > 0 {
		seq, err := parseStreamID(msgs[0].ID)
		if err != nil {
			return err
		}
		r.last = seq
	}
	r.loaded = true
	return nil
}

// Append adds data to the stream with id "{seq}-1"
func (r *Redis) Append(ctx context.Context, data []byte) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return 0, err
	}

	seq := r.last + 1
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.key,
		ID:     fmt.Sprintf("%d-1", seq),
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return 0, fmt.Errorf("xadd: %w", err)
	}
	r.last = seq
	return seq, nil
}

// Replay reads the stream in batches starting at the given sequence
func (r *Redis) Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error {
	if from < 1 {
		from = 1
	}
	start := fmt.Sprintf("%d-0", from)
	for {
		msgs, err := r.client.XRangeN(ctx, r.key, start, "+", r.batchSize).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("xrange: %w", err)
		}
		for _, msg := range msgs {
			seq, err := parseStreamID(msg.ID)
			if err != nil {
				return err
			}
			data, err := streamData(msg)
			if err != nil {
				return fmt.Errorf("entry %s: %w", msg.ID, err)
			}
			if err := fn(seq, data); err != nil {
				return err
			}
			start = fmt.Sprintf("%d-2", seq)
		}
		if int64(len(msgs)) < r.batchSize {
			return nil
		}
	}
}

// LastSequence returns the sequence of the newest stream entry
func (r *Redis) LastSequence(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return 0, err
	}
	return r.last, nil
}

// Close is a no-op; the caller owns the client
func (r *Redis) Close(ctx context.Context) error {
	return nil
}

func parseStreamID(id string) (uint64, error) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("malformed stream id %q", id)
	}
	seq, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return seq, nil
}

func streamData(msg redis.XMessage) ([]byte, error) {
	switch v := msg.Values["data"].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("missing data field")
	}
}

// Compile-time checks
var _ Journal = (*Redis)(nil)
var _ RedisClient = (redis.Cmdable)(nil)
