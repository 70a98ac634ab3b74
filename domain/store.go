package domain

import "context"

// SearchFilter selects snippets for lexical search. Query is matched as a
// case-insensitive substring of citation, key language or context; Tags
// matches snippets carrying any of the tags. When both are set a snippet
// must satisfy both. The zero value selects everything.
type SearchFilter struct {
	Query string
	Tags  []string
}

// IsEmpty reports whether the filter has no criteria.
func (f SearchFilter) IsEmpty() bool {
	return f.Query == "" && len(f.Tags) == 0
}

// Matches applies the filter to a single snippet.
func (f SearchFilter) Matches(s Snippet) bool {
	if f.Query != "" && !s.MatchesText(f.Query) {
		return false
	}
	if len(f.Tags) > 0 && !s.HasAnyTag(f.Tags) {
		return false
	}
	return true
}

// SimilarityQuery ranks snippets by cosine similarity of their combined
// embedding to Vector.
type SimilarityQuery struct {
	Vector    Embedding
	Limit     int
	Threshold *float64 // Inclusive floor on the similarity score; nil disables it
	Tags      []string // Hard pre-filter, any of
	ExcludeID int64    // Zero excludes nothing
}

// Accepts reports whether a snippet with the given id, tags and score passes
// the query's filters.
func (q SimilarityQuery) Accepts(s Snippet, score float64) bool {
	if q.ExcludeID != 0 && s.ID == q.ExcludeID {
		return false
	}
	if q.Threshold != nil && score < *q.Threshold {
		return false
	}
	if len(q.Tags) > 0 && !s.HasAnyTag(q.Tags) {
		return false
	}
	return true
}

// SnippetStore persists snippets.
type SnippetStore interface {
	// Insert stores a new snippet, assigning its id and timestamps.
	Insert(ctx context.Context, s *Snippet) (int64, error)
	// Get returns ErrSnippetNotFound when the id does not exist.
	Get(ctx context.Context, id int64) (*Snippet, error)
	// Replace overwrites the mutable fields of an existing snippet and
	// refreshes updated_at. Nil Embeddings keep the stored vectors.
	Replace(ctx context.Context, s *Snippet) error
	// Delete removes a snippet together with its embeddings.
	Delete(ctx context.Context, id int64) error
	// List returns matches ordered by updated_at, newest first.
	List(ctx context.Context, filter SearchFilter) ([]Snippet, error)
	// ListChronological returns every snippet ordered by created_at, oldest first.
	ListChronological(ctx context.Context) ([]Snippet, error)
	// DistinctTags returns the sorted set of tags in use.
	DistinctTags(ctx context.Context) ([]string, error)
	Close() error
}

// SemanticStore is implemented by stores that keep embeddings.
type SemanticStore interface {
	SimilarTo(ctx context.Context, q SimilarityQuery) ([]ScoredSnippet, error)
	// CombinedEmbedding returns ErrSnippetNotFound when the id does not exist.
	CombinedEmbedding(ctx context.Context, id int64) (Embedding, error)
}

// EmbeddingWriter is implemented by stores that can rewrite the vectors of a
// snippet without touching its fields or updated_at.
type EmbeddingWriter interface {
	UpdateEmbeddings(ctx context.Context, id int64, e *SnippetEmbeddings) error
}

// ScoredID is a hit returned by a VectorIndex.
type ScoredID struct {
	ID    int64
	Score float64
}

// VectorIndex defines the interface for an external vector database that
// holds the combined embedding of each snippet.
type VectorIndex interface {
	// Upsert adds or replaces the vector and tags of a snippet.
	Upsert(ctx context.Context, id int64, vector Embedding, tags []string) error
	// Remove deletes the point of a snippet; missing points are ignored.
	Remove(ctx context.Context, id int64) error
	// Search returns ids ranked by similarity, best first.
	Search(ctx context.Context, q SimilarityQuery) ([]ScoredID, error)
	// Vector returns ErrSnippetNotFound when no point exists for id.
	Vector(ctx context.Context, id int64) (Embedding, error)
	Close() error
}
