package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared cache backend. All operations are namespaced
// under a key prefix so the gateway's cache coexists with other tenants
// of the same Redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a shared-cache store from a parsed REDIS_URL.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// HSetWithExpire pipelines HSet and Expire so the two commit as close to
// atomically as the shared store allows.
func (s *RedisStore) HSetWithExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	k := s.key(key)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		values := make([]interface{}, 0, len(fields)*2)
		for f, v := range fields {
			values = append(values, f, v)
		}
		pipe.HSet(ctx, k, values...)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(key)).Result()
}

// ListPushTrimExpire pipelines LPush, LTrim and Expire. A caller can still
// observe a trimmed list whose expiry has not yet been refreshed; the
// pipeline only bounds how long that window can last.
func (s *RedisStore) ListPushTrimExpire(ctx context.Context, key, value string, maxLen int, ttl time.Duration) error {
	k := s.key(key)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, value)
		pipe.LTrim(ctx, k, 0, int64(maxLen-1))
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) ListRange(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, s.key(key), 0, -1).Result()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
