package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const embeddingKeyPrefix = "clinical-rag:embedding:"

// RedisEmbeddingCache stores query embeddings in Redis with a TTL so
// repeated questions skip the provider round-trip. Vectors are stored as
// JSON arrays; at 1536 dims that is ~30KB per entry, well within Redis
// comfort.
type RedisEmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEmbeddingCache creates a cache with the given TTL.
func NewRedisEmbeddingCache(client *redis.Client, ttl time.Duration) *RedisEmbeddingCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisEmbeddingCache{client: client, ttl: ttl}
}

// Get returns the cached embedding for key, or found=false on a miss.
func (c *RedisEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	val, err := c.client.Get(ctx, embeddingKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(val), &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached embedding: %w", err)
	}
	return embedding, true, nil
}

// Set stores an embedding under key with the cache TTL.
func (c *RedisEmbeddingCache) Set(ctx context.Context, key string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	if err := c.client.Set(ctx, embeddingKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// NoopEmbeddingCache is used when Redis is not configured; every lookup
// is a miss and writes are dropped.
type NoopEmbeddingCache struct{}

func (NoopEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	return nil, false, nil
}

func (NoopEmbeddingCache) Set(ctx context.Context, key string, embedding []float32) error {
	return nil
}
