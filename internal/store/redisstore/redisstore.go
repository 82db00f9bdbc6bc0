package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store backs the provider-detection cache with redis so probe results
// survive restarts and are shared across processes. Keys are already
// hashes of (baseURL, apiKey); a credential change lands on a new key.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) Set(ctx context.Context, key, vendor string) {
	_ = s.rdb.Set(ctx, key, vendor, s.ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) {
	_ = s.rdb.Del(ctx, key).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }
