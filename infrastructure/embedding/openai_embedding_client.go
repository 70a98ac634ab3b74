package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"legal-snippets/domain"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // e.g. http://localhost:8080/v1 for a local server
	Model      string
	Dimensions int
}

// OpenAIEmbeddingClient implements the domain.EmbeddingClient interface using
// any server that speaks the OpenAI embeddings API.
type OpenAIEmbeddingClient struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int

	mu    sync.Mutex
	ready bool
}

// NewOpenAIEmbeddingClient creates a new OpenAIEmbeddingClient. The model is
// not contacted until Init is called.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) *OpenAIEmbeddingClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = domain.DefaultEmbeddingDimensions
	}
	return &OpenAIEmbeddingClient{
		client:     openai.NewClientWithConfig(config),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: dims,
	}
}

// Init probes the model and checks that it produces vectors of the
// configured width. Only success is remembered; a failed probe is retried on
// the next call.
func (c *OpenAIEmbeddingClient) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	vectors, err := c.create(ctx, []string{"embedding model probe"})
	if err != nil {
		return fmt.Errorf("failed to initialize embedding model %s: %w", c.model, err)
	}
	if got := len(vectors[0]); got != c.dimensions {
		return fmt.Errorf("embedding model %s returned %d dimensions, expected %d", c.model, got, c.dimensions)
	}
	c.ready = true
	return nil
}

// GenerateEmbeddings generates embeddings for the given texts in a single request.
func (c *OpenAIEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.create(ctx, texts)
}

func (c *OpenAIEmbeddingClient) create(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if strings.HasPrefix(string(c.model), "text-embedding-3") {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([]domain.Embedding, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = domain.Embedding(data.Embedding)
	}
	return embeddings, nil
}
