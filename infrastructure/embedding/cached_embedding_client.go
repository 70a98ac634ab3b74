package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"legal-snippets/domain"
)

const cacheKeyPrefix = "legal-snippets:emb:"

// CachedEmbeddingClient wraps an EmbeddingClient with a Redis cache. Cache
// failures are logged and fall through to the wrapped client.
type CachedEmbeddingClient struct {
	client domain.EmbeddingClient
	redis  *goredis.Client
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedEmbeddingClient wraps client. model is part of every cache key so
// that switching models never serves stale vectors.
func NewCachedEmbeddingClient(client domain.EmbeddingClient, redis *goredis.Client, model string, ttl time.Duration, logger *slog.Logger) *CachedEmbeddingClient {
	return &CachedEmbeddingClient{client: client, redis: redis, model: model, ttl: ttl, logger: logger}
}

// Init checks that Redis answers and initializes the wrapped client when it
// supports probing.
func (c *CachedEmbeddingClient) Init(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		c.logger.Warn("embedding cache unreachable", "error", err)
	}
	if prober, ok := c.client.(interface{ Init(context.Context) error }); ok {
		return prober.Init(ctx)
	}
	return nil
}

func (c *CachedEmbeddingClient) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(hash[:])
}

// GenerateEmbeddings serves cached vectors and embeds only the misses, in one call.
func (c *CachedEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	embeddings := make([]domain.Embedding, len(texts))
	var missIdx []int
	var missTexts []string

	cached, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed, falling back to model", "error", err)
		cached = make([]any, len(texts))
	}
	for i, value := range cached {
		if s, ok := value.(string); ok {
			var vector domain.Embedding
			if err := json.Unmarshal([]byte(s), &vector); err == nil {
				embeddings[i] = vector
				continue
			}
			c.logger.Warn("dropping corrupt embedding cache entry", "key", keys[i])
			_ = c.redis.Del(ctx, keys[i]).Err()
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		c.logger.Debug("embedding cache hit", "texts", len(texts))
		return embeddings, nil
	}

	fresh, err := c.client.GenerateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.New("embedding client returned a mismatched batch")
	}

	pipe := c.redis.Pipeline()
	for j, i := range missIdx {
		embeddings[i] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	c.logger.Debug("embedding cache miss", "texts", len(texts), "misses", len(missTexts))
	return embeddings, nil
}
