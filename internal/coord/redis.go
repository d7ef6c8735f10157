package coord

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBuffer implements Buffer on a shared Redis instance. Lists give the
// ordered append semantics; RPUSH returning the post-append length gives the
// atomic first-writer signal across processes.
type RedisBuffer struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisBuffer, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBuffer{rdb: rdb}, nil
}

// Exists reports whether the key holds any entries.
func (b *RedisBuffer) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Append pushes a value to the tail of the list and returns its new length.
func (b *RedisBuffer) Append(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := b.rdb.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush %s: %w", key, err)
	}
	return n, nil
}

// ListAll returns every entry under the key in append order.
func (b *RedisBuffer) ListAll(ctx context.Context, key string) ([][]byte, error) {
	vals, err := b.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Delete removes the key and all its entries.
func (b *RedisBuffer) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (b *RedisBuffer) Close() error {
	return b.rdb.Close()
}
