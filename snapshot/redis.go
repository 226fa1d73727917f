package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis API used by Redis.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRevRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// Redis stores snapshots in Redis.
//
// Redis Data Structure:
//   - Hash: {prefix}{name}:{seq} - fields as_of, count, data
//   - Sorted Set: {prefix}{name} - score=seq, member=seq
//
// The hash is written before the index entry, so a snapshot is never
// visible before its data is.
type Redis struct {
	client RedisClient
	prefix string
	name   string
}

// NewRedis creates a snapshot store with keys under "futuremsg:snapshot:{name}"
func NewRedis(client RedisClient, name string) *Redis {
	return &Redis{
		client: client,
		prefix: "futuremsg:snapshot:",
		name:   name,
	}
}

// WithKeyPrefix sets the prefix for storage keys
func (r *Redis) WithKeyPrefix(prefix string) *Redis {
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

func (r *Redis) indexKey() string {
	return r.prefix + r.name
}

func (r *Redis) dataKey(seq uint64) string {
	return r.prefix + r.name + ":" + strconv.FormatUint(seq, 10)
}

// Save writes the snapshot hash and indexes it by sequence
func (r *Redis) Save(ctx context.Context, snap Snapshot) error {
	err := r.client.HSet(ctx, r.dataKey(snap.Sequence),
		"as_of", snap.AsOf.UnixNano(),
		"count", snap.Count,
		"data", snap.Data,
	).Err()
	if err != nil {
		return fmt.Errorf("hset: %w", err)
	}

	seq := strconv.FormatUint(snap.Sequence, 10)
	err = r.client.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(snap.Sequence),
		Member: seq,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// LoadLatest finds the highest indexed sequence at or below maxSeq
func (r *Redis) LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error) {
	upper := "+inf"
	if maxSeq > 0 {
		upper = strconv.FormatUint(maxSeq, 10)
	}
	members, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: 1,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("zrevrangebyscore: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	seq, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed index member %q: %w", members[0], err)
	}
	fields, err := r.client.HGetAll(ctx, r.dataKey(seq)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("snapshot %d indexed but missing", seq)
	}

	asOf, err := strconv.ParseInt(fields["as_of"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d as_of: %w", seq, err)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("snapshot %d count: %w", seq, err)
	}
	return &Snapshot{
		Sequence: seq,
		AsOf:     time.Unix(0, asOf),
		Count:    count,
		Data:     []byte(fields["data"]),
	}, nil
}

// Close is a no-op; the caller owns the client
func (r *Redis) Close(ctx context.Context) error {
	return nil
}

// Compile-time checks
var _ Store = (*Redis)(nil)
var _ RedisClient = (redis.Cmdable)(nil)
