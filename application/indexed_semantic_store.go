package application

import (
	"context"
	"errors"
	"sort"

	"legal-snippets/domain"
)

// IndexedSemanticStore serves similarity queries from an external vector
// index and hydrates the hits from the record store. Points whose snippet no
// longer exists are skipped.
type IndexedSemanticStore struct {
	store domain.SnippetStore
	index domain.VectorIndex
}

var _ domain.SemanticStore = (*IndexedSemanticStore)(nil)

// NewIndexedSemanticStore pairs a record store with a vector index.
func NewIndexedSemanticStore(store domain.SnippetStore, index domain.VectorIndex) *IndexedSemanticStore {
	return &IndexedSemanticStore{store: store, index: index}
}

// SimilarTo ranks by the index and returns the matching records. Equal
// scores are ordered by id.
func (s *IndexedSemanticStore) SimilarTo(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredSnippet, error) {
	hits, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	sortHits(hits)

	results := make([]domain.ScoredSnippet, 0, len(hits))
	for _, hit := range hits {
		snippet, err := s.store.Get(ctx, hit.ID)
		if errors.Is(err, domain.ErrSnippetNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !q.Accepts(*snippet, hit.Score) {
			continue
		}
		results = append(results, domain.ScoredSnippet{Snippet: *snippet, SimilarityScore: hit.Score})
	}
	return results, nil
}

// CombinedEmbedding reads the vector stored in the index.
func (s *IndexedSemanticStore) CombinedEmbedding(ctx context.Context, id int64) (domain.Embedding, error) {
	return s.index.Vector(ctx, id)
}

// sortHits orders hits by score descending, then id ascending.
func sortHits(hits []domain.ScoredID) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
