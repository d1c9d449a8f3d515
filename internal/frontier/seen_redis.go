package frontier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type setNXCloser interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisSeenSet keeps the seen-set in Redis so it can be inspected from outside
// the process. Keys are scoped to one crawl run and expire after ttl.
type RedisSeenSet struct {
	client setNXCloser
	prefix string
	ttl    time.Duration
}

// NewRedisSeenSet connects to addr and scopes keys under prefix + runID.
func NewRedisSeenSet(addr, prefix, runID string, ttl time.Duration) *RedisSeenSet {
	return NewRedisSeenSetWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, runID, ttl)
}

// NewRedisSeenSetWithClient builds a RedisSeenSet from an existing client (tests).
func NewRedisSeenSetWithClient(client setNXCloser, prefix, runID string, ttl time.Duration) *RedisSeenSet {
	return &RedisSeenSet{
		client: client,
		prefix: prefix + runID + ":",
		ttl:    ttl,
	}
}

// Add records key with SETNX and reports whether it was absent.
func (s *RedisSeenSet) Add(ctx context.Context, key string) (bool, error) {
	added, err := s.client.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return added, nil
}

// Close closes the Redis client.
func (s *RedisSeenSet) Close() error {
	return s.client.Close()
}
