package domain

import (
	"context"
	"fmt"
	"math"
)

// DefaultEmbeddingDimensions matches all-MiniLM-L6-v2.
const DefaultEmbeddingDimensions = 384

// Embedding represents a numerical vector representation of text.
type Embedding []float32

// EmbeddingClient defines the interface for generating embeddings from text.
type EmbeddingClient interface {
	// GenerateEmbeddings generates embeddings for the given texts, in order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([]Embedding, error)
}

// GenerateSnippetEmbeddings embeds the citation, key language and combined
// text of s.
func GenerateSnippetEmbeddings(ctx context.Context, client EmbeddingClient, s Snippet) (*SnippetEmbeddings, error) {
	texts := s.EmbeddingTexts()
	vectors, err := client.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingUnavailable, len(texts), len(vectors))
	}
	return &SnippetEmbeddings{
		Citation:    vectors[0],
		KeyLanguage: vectors[1],
		Combined:    vectors[2],
	}, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
