package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

const redisKeyPrefix = "moat:idem:"

// RedisStore is a Store backed by Redis. TTL enforcement is delegated to
// Redis key expiry, which also gives cross-process coherence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL dials Redis from a redis:// URL.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("idempotency: invalid redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func redisKey(tenantID, key string) string {
	return redisKeyPrefix + tenantID + ":" + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, tenantID, key string) (*contracts.Receipt, error) {
	raw, err := s.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis get failed: %w", err)
	}
	var receipt contracts.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("idempotency: cached receipt decode failed: %w", err)
	}
	return &receipt, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, tenantID, key string, receipt *contracts.Receipt, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("idempotency: receipt encode failed: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(tenantID, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set failed: %w", err)
	}
	return nil
}

// Clear implements Store. Scans the key prefix; intended for tests.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("idempotency: redis del failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("idempotency: redis scan failed: %w", err)
	}
	return nil
}
