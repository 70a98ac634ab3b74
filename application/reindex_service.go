package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"legal-snippets/domain"
)

// ReindexService regenerates the embeddings of every stored snippet, for
// example after switching embedding models.
type ReindexService struct {
	store     domain.SnippetStore
	writer    domain.EmbeddingWriter
	index     domain.VectorIndex
	embedder  domain.EmbeddingClient
	workers   int
	batchSize int
	logger    *slog.Logger
}

// NewReindexService creates a ReindexService. Vectors are written back to the
// store when it keeps them and to index when one is given.
func NewReindexService(store domain.SnippetStore, index domain.VectorIndex, embedder domain.EmbeddingClient, workers, batchSize int, logger *slog.Logger) *ReindexService {
	writer, _ := store.(domain.EmbeddingWriter)
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &ReindexService{
		store:     store,
		writer:    writer,
		index:     index,
		embedder:  embedder,
		workers:   workers,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Reembed walks every snippet oldest first, embeds them in batches on a
// bounded worker pool and writes the vectors back. It returns the number of
// snippets processed.
func (s *ReindexService) Reembed(ctx context.Context) (int, error) {
	if s.writer == nil && s.index == nil {
		return 0, domain.ErrSemanticSearchUnavailable
	}

	snippets, err := s.store.ListChronological(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list snippets: %w", err)
	}
	if len(snippets) == 0 {
		s.logger.Info("no snippets to re-embed")
		return 0, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return 0, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		errOnce   sync.Once
		firstErr  error
	)
	totalBatches := (len(snippets) + s.batchSize - 1) / s.batchSize

	for i := 0; i < len(snippets); i += s.batchSize {
		end := min(i+s.batchSize, len(snippets))
		batch := snippets[i:end]
		batchNum := i/s.batchSize + 1

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := s.reembedBatch(ctx, batch); err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("error re-embedding batch %d/%d: %w", batchNum, totalBatches, err)
				})
				return
			}
			processed.Add(int64(len(batch)))
			s.logger.Info("batch re-embedded", "batch", batchNum, "batches", totalBatches, "snippets", len(batch))
		})
		if err != nil {
			wg.Done()
			return int(processed.Load()), fmt.Errorf("failed to submit batch %d: %w", batchNum, err)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return int(processed.Load()), firstErr
	}
	s.logger.Info("re-embedding finished", "snippets", processed.Load())
	return int(processed.Load()), nil
}

// reembedBatch embeds a batch with a single model call.
func (s *ReindexService) reembedBatch(ctx context.Context, batch []domain.Snippet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make([]string, 0, 3*len(batch))
	for _, snippet := range batch {
		texts = append(texts, snippet.EmbeddingTexts()...)
	}
	vectors, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("mismatch between number of texts (%d) and embeddings (%d)", len(texts), len(vectors))
	}

	for i, snippet := range batch {
		embeddings := &domain.SnippetEmbeddings{
			Citation:    vectors[3*i],
			KeyLanguage: vectors[3*i+1],
			Combined:    vectors[3*i+2],
		}
		if s.writer != nil {
			if err := s.writer.UpdateEmbeddings(ctx, snippet.ID, embeddings); err != nil {
				return err
			}
		}
		if s.index != nil {
			if err := s.index.Upsert(ctx, snippet.ID, embeddings.Combined, snippet.Tags); err != nil {
				return err
			}
		}
	}
	return nil
}
