package embedding

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-snippets/domain"
	"legal-snippets/infrastructure/logging"
)

// countingClient records how many texts it was asked to embed.
type countingClient struct {
	inner domain.EmbeddingClient
	texts int
}

func (c *countingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	c.texts += len(texts)
	return c.inner.GenerateEmbeddings(ctx, texts)
}

func TestCachedEmbeddingClientRedisDown(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	inner := &countingClient{inner: NewHashEmbeddingClient(16)}
	c := NewCachedEmbeddingClient(inner, rdb, "hash", time.Minute, logging.Noop())

	got, err := c.GenerateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, inner.texts)
	assert.NoError(t, c.Init(context.Background()))
}

func TestCachedEmbeddingClientRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	model := "hash-" + time.Now().Format(time.RFC3339Nano)
	inner := &countingClient{inner: NewHashEmbeddingClient(16)}
	c := NewCachedEmbeddingClient(inner, rdb, model, time.Minute, logging.Noop())

	first, err := c.GenerateEmbeddings(ctx, []string{"duty of care", "negligence"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.texts)

	second, err := c.GenerateEmbeddings(ctx, []string{"negligence", "duty of care", "new text"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.texts)
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[1])
}

func TestCacheKeyIncludesModel(t *testing.T) {
	a := NewCachedEmbeddingClient(nil, nil, "model-a", time.Minute, logging.Noop())
	b := NewCachedEmbeddingClient(nil, nil, "model-b", time.Minute, logging.Noop())
	assert.NotEqual(t, a.cacheKey("text"), b.cacheKey("text"))
	assert.Equal(t, a.cacheKey("text"), a.cacheKey("text"))
}
