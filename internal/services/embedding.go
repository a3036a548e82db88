package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

const (
	// defaultEmbedMaxRunes is the head-truncation limit applied before the
	// provider call. Truncation is by rune count so the same text always
	// yields the same request.
	defaultEmbedMaxRunes = 8000

	defaultEmbedRetryDelay = 500 * time.Millisecond
)

// EmbeddingService converts free text into a fixed-length vector via the
// provider, fronted by a shared cache. Policy on provider failure: retry
// once after a short backoff, then fail the enclosing operation with
// ErrProviderUnavailable. There is no silent keyword-only fallback.
type EmbeddingService struct {
	client     EmbeddingClient
	cache      repositories.EmbeddingCache
	logger     *log.Logger
	maxRunes   int
	retryDelay time.Duration
}

// NewEmbeddingService creates an embedding service. Pass
// repositories.NoopEmbeddingCache{} when no cache backend is configured.
func NewEmbeddingService(client EmbeddingClient, cache repositories.EmbeddingCache, logger *log.Logger) *EmbeddingService {
	return &EmbeddingService{
		client:     client,
		cache:      cache,
		logger:     logger,
		maxRunes:   defaultEmbedMaxRunes,
		retryDelay: defaultEmbedRetryDelay,
	}
}

// Embed returns the embedding for text, deterministically head-truncated
// to the provider limit.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	truncated := s.truncate(text)
	key := cacheKey(truncated)

	if cached, found, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Printf("Embedding cache read failed: %v", err)
	} else if found {
		return cached, nil
	}

	embedding, err := s.client.CreateEmbedding(ctx, truncated)
	if err != nil {
		s.logger.Printf("Embedding call failed, retrying once: %v", err)
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, ctx.Err())
		}
		embedding, err = s.client.CreateEmbedding(ctx, truncated)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
		}
	}

	if err := s.cache.Set(ctx, key, embedding); err != nil {
		s.logger.Printf("Embedding cache write failed: %v", err)
	}
	return embedding, nil
}

func (s *EmbeddingService) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= s.maxRunes {
		return text
	}
	return string(runes[:s.maxRunes])
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
