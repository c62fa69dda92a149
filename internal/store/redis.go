package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyedStore keeps each entry in its own key and tracks namespace
// membership in two sorted sets: one scored by expiry (ms since epoch, +inf
// when none) for pruning, one scored by insertion time for eviction.
type RedisKeyedStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisKeyedStore(client redis.UniversalClient, prefix string) *RedisKeyedStore {
	if prefix == "" {
		prefix = "poscore"
	}
	return &RedisKeyedStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisKeyedStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.dataKey(namespace, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisKeyedStore) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		return nil
	}
	dataKey := s.dataKey(namespace, key)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, value, ttl)
	pipe.ZAdd(ctx, s.indexKey(namespace), redis.Z{Score: s.expiryScore(ttl), Member: dataKey})
	pipe.ZAdd(ctx, s.orderKey(namespace), redis.Z{Score: s.insertScore(), Member: dataKey})
	_, err := pipe.Exec(ctx)
	return err
}

// incrementScript creates the counter with its ttl and index entries in one
// step, so a counter never outlives its window.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  if tonumber(ARGV[1]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
  end
  redis.call('ZADD', KEYS[2], ARGV[2], KEYS[1])
  redis.call('ZADD', KEYS[3], ARGV[3], KEYS[1])
end
return n
`)

func (s *RedisKeyedStore) Increment(ctx context.Context, namespace, key string, ttl time.Duration) (int64, error) {
	keys := []string{s.dataKey(namespace, key), s.indexKey(namespace), s.orderKey(namespace)}
	expiry := "+inf"
	if ttl > 0 {
		expiry = strconv.FormatInt(s.now().Add(ttl).UnixMilli(), 10)
	}
	n, err := incrementScript.Run(ctx, s.client, keys,
		ttl.Milliseconds(), expiry, strconv.FormatInt(s.now().UnixMicro(), 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", namespace, err)
	}
	return n, nil
}

func (s *RedisKeyedStore) Delete(ctx context.Context, namespace, key string) error {
	dataKey := s.dataKey(namespace, key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dataKey)
	pipe.ZRem(ctx, s.indexKey(namespace), dataKey)
	pipe.ZRem(ctx, s.orderKey(namespace), dataKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisKeyedStore) Len(ctx context.Context, namespace string) (int64, error) {
	if err := s.pruneExpired(ctx, namespace); err != nil {
		return 0, err
	}
	return s.client.ZCard(ctx, s.indexKey(namespace)).Result()
}

// EvictOldest removes the n earliest inserted live entries.
func (s *RedisKeyedStore) EvictOldest(ctx context.Context, namespace string, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	if err := s.pruneExpired(ctx, namespace); err != nil {
		return 0, err
	}
	keys, err := s.client.ZRange(ctx, s.orderKey(namespace), 0, n-1).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return int64(len(keys)), s.removeEntries(ctx, namespace, keys, true)
}

// pruneExpired drops index entries whose data key has already expired.
func (s *RedisKeyedStore) pruneExpired(ctx context.Context, namespace string) error {
	expired, err := s.client.ZRangeByScore(ctx, s.indexKey(namespace), &redis.ZRangeBy{Min: "-inf", Max: s.nowScore()}).Result()
	if err != nil || len(expired) == 0 {
		return err
	}
	return s.removeEntries(ctx, namespace, expired, false)
}

func (s *RedisKeyedStore) removeEntries(ctx context.Context, namespace string, keys []string, withData bool) error {
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := s.client.TxPipeline()
	if withData {
		pipe.Del(ctx, keys...)
	}
	pipe.ZRem(ctx, s.indexKey(namespace), members...)
	pipe.ZRem(ctx, s.orderKey(namespace), members...)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisKeyedStore) expiryScore(ttl time.Duration) float64 {
	if ttl <= 0 {
		return math.Inf(1)
	}
	return float64(s.now().Add(ttl).UnixMilli())
}

func (s *RedisKeyedStore) insertScore() float64 {
	return float64(s.now().UnixMicro())
}

func (s *RedisKeyedStore) nowScore() string {
	return strconv.FormatInt(s.now().UnixMilli(), 10)
}

func (s *RedisKeyedStore) dataKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:data:%s", s.prefix, normalizeNamespace(namespace), hashKey(key))
}

func (s *RedisKeyedStore) indexKey(namespace string) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, normalizeNamespace(namespace))
}

func (s *RedisKeyedStore) orderKey(namespace string) string {
	return fmt.Sprintf("%s:%s:order", s.prefix, normalizeNamespace(namespace))
}

func normalizeNamespace(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "default"
	}
	return v
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
