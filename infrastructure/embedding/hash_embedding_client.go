package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"legal-snippets/domain"
)

// HashEmbeddingClient is a deterministic offline embedder based on feature
// hashing of lowercase tokens and token bigrams. Texts sharing vocabulary
// score higher, which is enough for tests and air-gapped installs.
type HashEmbeddingClient struct {
	dimensions int
}

// NewHashEmbeddingClient returns an embedder producing vectors of the given width.
func NewHashEmbeddingClient(dimensions int) *HashEmbeddingClient {
	if dimensions <= 0 {
		dimensions = domain.DefaultEmbeddingDimensions
	}
	return &HashEmbeddingClient{dimensions: dimensions}
}

// GenerateEmbeddings embeds each text independently.
func (c *HashEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	embeddings := make([]domain.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = c.embed(text)
	}
	return embeddings, nil
}

func (c *HashEmbeddingClient) embed(text string) domain.Embedding {
	v := make(domain.Embedding, c.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, tok := range tokens {
		c.add(v, tok, 1)
		if i > 0 {
			c.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (c *HashEmbeddingClient) add(v domain.Embedding, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(c.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
