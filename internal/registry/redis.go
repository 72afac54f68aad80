package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisStore implements Store on top of a Redis server.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client's lifecycle.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Keys implements Store.Keys using SCAN so large registries do not block the server.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, escapeGlob(prefix)+"*", scanBatch).Result()
		if err != nil {
			return nil, wrapRedis(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Exists implements Store.Exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedis(err)
	}
	return n > 0, nil
}

// Expire implements Store.Expire.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapRedis(s.rdb.Expire(ctx, key, ttl).Err())
}

// HGetAll implements Store.HGetAll.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	return m, nil
}

// HSet implements Store.HSet.
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return wrapRedis(s.rdb.HSet(ctx, key, args...).Err())
}

// ZAddNX implements Store.ZAddNX.
func (s *RedisStore) ZAddNX(ctx context.Context, key, member string, score float64) error {
	return wrapRedis(s.rdb.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ZIncrBy implements Store.ZIncrBy.
func (s *RedisStore) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	v, err := s.rdb.ZIncrBy(ctx, key, delta, member).Result()
	if err != nil {
		return 0, wrapRedis(err)
	}
	return v, nil
}

// ZLowest implements Store.ZLowest.
func (s *RedisStore) ZLowest(ctx context.Context, key string) (string, float64, bool, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return "", 0, false, wrapRedis(err)
	}
	if len(zs) == 0 {
		return "", 0, false, nil
	}
	member, _ := zs[0].Member.(string)
	return member, zs[0].Score, true, nil
}

// ZRem implements Store.ZRem.
func (s *RedisStore) ZRem(ctx context.Context, key, member string) error {
	return wrapRedis(s.rdb.ZRem(ctx, key, member).Err())
}

// SIsMember implements Store.SIsMember.
func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapRedis(err)
	}
	return ok, nil
}

// SAdd implements Store.SAdd.
func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return wrapRedis(s.rdb.SAdd(ctx, key, member).Err())
}

func wrapRedis(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return ErrWrongType
	}
	return err
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
