package seedqueue

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisClient is the narrow client surface RedisQueue needs, mirroring the
// simpleClient pattern used to make the teacher stack's redis-backed code
// mockable in tests without a live server.
type redisClient interface {
	LLen(ctx context.Context, key string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// RedisQueue is a Queue backed by a Redis list (pending) and hash (used),
// namespaced per shard so several server processes for the same shard can
// share one preprocessing pool.
type RedisQueue struct {
	client     redisClient
	capacity   int
	pendingKey string
	usedKey    string
}

// NewRedis constructs a RedisQueue for the given shard, namespacing its keys
// under raidpir:seedqueue:<shardID>.
func NewRedis(client *redis.Client, shardID string, capacity int) *RedisQueue {
	return &RedisQueue{
		client:     client,
		capacity:   capacity,
		pendingKey: fmt.Sprintf("raidpir:seedqueue:%s:pending", shardID),
		usedKey:    fmt.Sprintf("raidpir:seedqueue:%s:used", shardID),
	}
}

// Push implements Queue. The capacity check and the RPush are not atomic
// together; a brief capacity overrun under concurrent pushers is acceptable
// since QueueSize is a target depth, not a hard bound (spec §9).
func (q *RedisQueue) Push(ctx context.Context, e Entry) (bool, error) {
	n, err := q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return false, err
	}
	if int(n) >= q.capacity {
		return false, nil
	}
	if err := q.client.RPush(ctx, q.pendingKey, encodeEntry(e)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Len implements Queue.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pendingKey).Result()
	return int(n), err
}

// Pop implements Queue.
func (q *RedisQueue) Pop(ctx context.Context) (Entry, bool, error) {
	s, err := q.client.LPop(ctx, q.pendingKey).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	e := decodeEntry(s)
	field := fmt.Sprintf("%d", e.Seed)
	if err := q.client.HSet(ctx, q.usedKey, field, e.Partial).Err(); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Take implements Queue.
func (q *RedisQueue) Take(ctx context.Context, seed uint64) ([]byte, bool, error) {
	field := fmt.Sprintf("%d", seed)
	s, err := q.client.HGet(ctx, q.usedKey, field).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := q.client.HDel(ctx, q.usedKey, field).Err(); err != nil {
		return nil, false, err
	}
	return []byte(s), true, nil
}

// encodeEntry packs an Entry into a single binary-safe Redis string: an
// 8-byte little-endian seed followed by the raw partial payload.
func encodeEntry(e Entry) string {
	buf := make([]byte, 8+len(e.Partial))
	binary.LittleEndian.PutUint64(buf[:8], e.Seed)
	copy(buf[8:], e.Partial)
	return string(buf)
}

func decodeEntry(s string) Entry {
	b := []byte(s)
	seed := binary.LittleEndian.Uint64(b[:8])
	partial := append([]byte(nil), b[8:]...)
	return Entry{Seed: seed, Partial: partial}
}
