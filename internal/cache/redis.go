package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

// RedisCache wraps the shared Redis client used by the dedup ledger, the
// dispatch queue and the analytics sink.
type RedisCache struct {
	client    *redis.Client
	opTimeout time.Duration
}

type CacheConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// OpTimeout caps a single cache call on top of the caller's context.
	OpTimeout time.Duration
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		OpTimeout:    3 * time.Second,
	}
}

func NewRedisCache(config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	opTimeout := config.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}

	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         config.Addr,
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			MaxRetries:   config.MaxRetries,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		}),
		opTimeout: opTimeout,
	}
}

func (r *RedisCache) Client() *redis.Client {
	return r.client
}

func (r *RedisCache) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// Set stores value as JSON. A json.RawMessage is written as is.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	ctx, cancel := r.bounded(ctx)
	defer cancel()
	if err := r.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrCacheDown, key, err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("%w: get %s: %v", ErrCacheDown, key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetNX stores a marker under key only if it is absent and reports whether
// this call created it.
func (r *RedisCache) SetNX(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	ok, err := r.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), expiration).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheDown, err)
	}
	return ok, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrCacheDown, key, err)
	}
	return nil
}

// Health pings Redis; it backs the readiness probe.
func (r *RedisCache) Health(ctx context.Context) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheDown, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
