package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

func setupEmbeddingService(client EmbeddingClient, cache repositories.EmbeddingCache) *EmbeddingService {
	service := NewEmbeddingService(client, cache, testLogger())
	service.retryDelay = time.Millisecond
	return service
}

func TestEmbed_CacheHit(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	ctx := context.Background()

	cached := []float32{0.1, 0.2, 0.3}
	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(cached, true, nil)

	embedding, err := service.Embed(ctx, "dolor de cabeza")

	assert.NoError(t, err)
	assert.Equal(t, cached, embedding)
	client.AssertNotCalled(t, "CreateEmbedding", mock.Anything, mock.Anything)
}

func TestEmbed_CacheMissCallsProviderAndStores(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	ctx := context.Background()

	fresh := []float32{0.4, 0.5}
	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, nil)
	client.On("CreateEmbedding", ctx, "dolor de cabeza").Return(fresh, nil)
	cache.On("Set", ctx, mock.AnythingOfType("string"), fresh).Return(nil)

	embedding, err := service.Embed(ctx, "dolor de cabeza")

	assert.NoError(t, err)
	assert.Equal(t, fresh, embedding)
	cache.AssertExpectations(t)
}

func TestEmbed_RetriesOnceThenSucceeds(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	ctx := context.Background()

	fresh := []float32{0.9}
	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, nil)
	client.On("CreateEmbedding", ctx, "mareos").Return(nil, errors.New("rate limited")).Once()
	client.On("CreateEmbedding", ctx, "mareos").Return(fresh, nil).Once()
	cache.On("Set", ctx, mock.AnythingOfType("string"), fresh).Return(nil)

	embedding, err := service.Embed(ctx, "mareos")

	assert.NoError(t, err)
	assert.Equal(t, fresh, embedding)
	client.AssertNumberOfCalls(t, "CreateEmbedding", 2)
}

func TestEmbed_ProviderUnavailableAfterRetry(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	ctx := context.Background()

	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, nil)
	client.On("CreateEmbedding", ctx, "mareos").Return(nil, errors.New("rate limited"))

	embedding, err := service.Embed(ctx, "mareos")

	assert.Nil(t, embedding)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	client.AssertNumberOfCalls(t, "CreateEmbedding", 2)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmbed_CacheErrorsAreNonFatal(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	ctx := context.Background()

	fresh := []float32{0.2}
	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, errors.New("redis down"))
	client.On("CreateEmbedding", ctx, "fiebre").Return(fresh, nil)
	cache.On("Set", ctx, mock.AnythingOfType("string"), fresh).Return(errors.New("redis down"))

	embedding, err := service.Embed(ctx, "fiebre")

	assert.NoError(t, err)
	assert.Equal(t, fresh, embedding)
}

func TestEmbed_TruncatesLongInputDeterministically(t *testing.T) {
	client := new(MockEmbeddingClient)
	cache := new(MockEmbeddingCache)
	service := setupEmbeddingService(client, cache)
	service.maxRunes = 10
	ctx := context.Background()

	long := strings.Repeat("á", 25)
	want := strings.Repeat("á", 10)

	cache.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, nil)
	client.On("CreateEmbedding", ctx, want).Return([]float32{1}, nil)
	cache.On("Set", ctx, mock.AnythingOfType("string"), []float32{1}).Return(nil)

	_, err := service.Embed(ctx, long)

	assert.NoError(t, err)
	client.AssertCalled(t, "CreateEmbedding", ctx, want)
}
