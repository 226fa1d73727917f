package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
Redis Data Structure:
  - Hash: {prefix}msg:{id} - message fields
  - Sorted Set: {prefix}index - message IDs scored by created_at (Unix ms)
*/

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore implements Store with one hash per dead letter and a sorted
// set index. Filtering happens client side, so it suits modest volumes.
type RedisStore struct {
	client    RedisClient
	msgPrefix string
	indexKey  string
}

// NewRedisStore creates a store under the prefix "futuremsg:dlq:".
func NewRedisStore(client RedisClient) *RedisStore {
	return (&RedisStore{client: client}).WithKeyPrefix("futuremsg:dlq:")
}

// WithKeyPrefix sets the key prefix
func (s *RedisStore) WithKeyPrefix(prefix string) *RedisStore {
	s.msgPrefix = prefix + "msg:"
	s.indexKey = prefix + "index"
	return s
}

func (s *RedisStore) Store(ctx context.Context, msg *Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	fields := map[string]interface{}{
		"id":          msg.ID,
		"original_id": msg.OriginalID,
		"source":      msg.Source,
		"destination": msg.Destination,
		"payload":     msg.Payload,
		"metadata":    metadata,
		"fire_time":   msg.FireTime.UTC().Format(time.RFC3339Nano),
		"error":       msg.Error,
		"created_at":  msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if msg.RetriedAt != nil {
		fields["retried_at"] = msg.RetriedAt.UTC().Format(time.RFC3339Nano)
	}

	if err := s.client.HSet(ctx, s.msgPrefix+msg.ID, fields).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	member := redis.Z{Score: float64(msg.CreatedAt.UnixMilli()), Member: msg.ID}
	if err := s.client.ZAdd(ctx, s.indexKey, member).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func parseTime(fields map[string]string, name string) (time.Time, error) {
	v := fields[name]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return t, nil
}

func parseFields(fields map[string]string) (*Message, error) {
	msg := &Message{
		ID:          fields["id"],
		OriginalID:  fields["original_id"],
		Source:      fields["source"],
		Destination: fields["destination"],
		Error:       fields["error"],
	}
	if p := fields["payload"]; p != "" {
		msg.Payload = []byte(p)
	}
	if m := fields["metadata"]; m != "" && m != "null" {
		if err := json.Unmarshal([]byte(m), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	var err error
	if msg.FireTime, err = parseTime(fields, "fire_time"); err != nil {
		return nil, err
	}
	if msg.CreatedAt, err = parseTime(fields, "created_at"); err != nil {
		return nil, err
	}
	if _, ok := fields["retried_at"]; ok {
		t, err := parseTime(fields, "retried_at")
		if err != nil {
			return nil, err
		}
		msg.RetriedAt = &t
	}
	return msg, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Message, error) {
	fields, err := s.client.HGetAll(ctx, s.msgPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseFields(fields)
}

func (s *RedisStore) matching(ctx context.Context, filter Filter) ([]*Message, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	var out []*Message
	for _, id := range ids {
		msg, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(msg) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*Message, error) {
	msgs, err := s.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	return filter.page(msgs), nil
}

func (s *RedisStore) Count(ctx context.Context, filter Filter) (int64, error) {
	msgs, err := s.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

func (s *RedisStore) MarkRetried(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.msgPrefix+id, "retried_at", now).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.msgPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("del: %w", err)
	}
	s.client.ZRem(ctx, s.indexKey, id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}
	var n int64
	for _, id := range ids {
		if err := s.Delete(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

var _ Store = (*RedisStore)(nil)
