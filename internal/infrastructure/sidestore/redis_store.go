package sidestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript refills and takes one token atomically. The bucket
// lives in a hash {tokens, ts}; time is passed in from the caller so the
// script stays deterministic.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = tokens + elapsed * refill
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', KEYS[1], ttl)
return allowed
`)

// RedisStore backs duplicate detection and rate limiting with Redis so
// the checks hold across gateway replicas.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("Connected to Redis side store", zap.String("addr", cfg.Addr))
	return &RedisStore{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// CheckFingerprint records the fingerprint with the window as TTL and
// reports whether it was already present. SET NX makes record-and-check
// a single round trip.
func (s *RedisStore) CheckFingerprint(ctx context.Context, key string, window time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// TakeToken runs the token bucket script for the key.
func (s *RedisStore) TakeToken(ctx context.Context, key string, capacity int, refillPerSec float64) (bool, error) {
	now := float64(time.Now().UnixMilli()) / 1000.0
	ttl := int(float64(capacity)/refillPerSec) + 60

	res, err := tokenBucketScript.Run(ctx, s.client, []string{key},
		capacity, refillPerSec, now, ttl).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
