package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putScript enforces the monotonic timestamp guard server-side so that
// concurrent writers on different nodes cannot interleave a stale overwrite.
// KEYS[1] entry hash, ARGV[1] snapshot json, ARGV[2] updated_at (unix nanos),
// ARGV[3] ttl millis.
var putScript = redis.NewScript(`
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts') or '0')
if ts > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'json', ARGV[1], 'ts', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisStore is the Store used when several dialer processes share one
// correlation space. Keys are namespaced under "corr:".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle
// configuration, the store owns Close.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(k string) string {
	return "corr:" + k
}

func (s *RedisStore) Put(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	stored := snap.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("correlation: marshal snapshot: %w", err)
	}

	ok, err := putScript.Run(ctx, s.client, []string{s.key(key)},
		data, stored.UpdatedAt.UnixNano(), ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("correlation: redis put: %w", err)
	}
	if ok == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	data, err := s.client.HGet(ctx, s.key(key), "json").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("correlation: redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("correlation: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Reindex(ctx context.Context, oldKey, newKey string) error {
	snap, err := s.Get(ctx, oldKey)
	if err != nil {
		return err
	}
	if snap.CarrierCallID == newKey {
		if n, err := s.client.Exists(ctx, s.key(newKey)).Result(); err == nil && n > 0 {
			return nil
		}
	}

	ttl, err := s.client.PTTL(ctx, s.key(oldKey)).Result()
	if err != nil || ttl <= 0 {
		ttl = DefaultTTL
	}

	snap.CarrierCallID = newKey
	snap.UpdatedAt = time.Now()

	if err := s.Put(ctx, newKey, snap, ttl); err != nil {
		return err
	}
	return s.Put(ctx, oldKey, snap, ttl)
}

func (s *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := s.client.PExpire(ctx, s.key(key), ttl).Result()
	if err != nil {
		return fmt.Errorf("correlation: redis touch: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
