package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// SortedSetCache keeps ordered collections of members per key.
type SortedSetCache struct {
	client *redis.Client
	prefix string
}

func NewSortedSetCache(client *redis.Client, prefix string) *SortedSetCache {
	return &SortedSetCache{
		client: client,
		prefix: prefix,
	}
}

func (c *SortedSetCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Add adds a member with the given score. An existing member gets its score updated.
func (c *SortedSetCache) Add(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, c.key(key), redis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

// RangeByScore returns up to limit members with min <= score <= max, ascending.
// limit <= 0 means no limit.
func (c *SortedSetCache) RangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}
	if limit > 0 {
		opt.Count = limit
	}
	return c.client.ZRangeByScore(ctx, c.key(key), opt).Result()
}

// GetAll returns all members ordered by score ascending.
func (c *SortedSetCache) GetAll(ctx context.Context, key string) ([]string, error) {
	return c.client.ZRange(ctx, c.key(key), 0, -1).Result()
}
