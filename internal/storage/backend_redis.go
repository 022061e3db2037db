package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each collection as one hash: field = key, value =
// JSON document.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client and pings it once.
func NewRedisBackend(ctx context.Context, rdb *redis.Client, prefix string) (*RedisBackend, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}, nil
}

// Stats reports the connection pool of the client.
func (b *RedisBackend) Stats() map[string]any {
	ps := b.rdb.PoolStats()
	return map[string]any{
		"addr":        b.rdb.Options().Addr,
		"prefix":      b.prefix,
		"pool_hits":   ps.Hits,
		"pool_misses": ps.Misses,
		"total_conns": ps.TotalConns,
		"idle_conns":  ps.IdleConns,
	}
}

func (b *RedisBackend) hash(coll string) string {
	return b.prefix + coll
}

func (b *RedisBackend) Get(ctx context.Context, coll, key string) ([]byte, bool, error) {
	doc, err := b.rdb.HGet(ctx, b.hash(coll), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, coll, key string, doc []byte) error {
	return b.rdb.HSet(ctx, b.hash(coll), key, doc).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, coll, key string) error {
	return b.rdb.HDel(ctx, b.hash(coll), key).Err()
}

func (b *RedisBackend) Keys(ctx context.Context, coll string) ([]string, error) {
	keys, err := b.rdb.HKeys(ctx, b.hash(coll)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
