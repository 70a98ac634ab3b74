package application

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"legal-snippets/domain"
	"legal-snippets/infrastructure/embedding"
	"legal-snippets/infrastructure/logging"
	"legal-snippets/infrastructure/storage/jsonfile"
	"legal-snippets/infrastructure/storage/sqlite"
)

const testDimensions = 64

func ptr[T any](v T) *T { return &v }

func tickingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newJSONStore(t *testing.T) *jsonfile.Store {
	t.Helper()
	return jsonfile.New(filepath.Join(t.TempDir(), "legal_snippets.json"), jsonfile.WithClock(tickingClock()))
}

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "legal_snippets.db"), sqlite.WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newJSONService has no vectors.
func newJSONService(t *testing.T) *SnippetService {
	t.Helper()
	return NewSnippetService(newJSONStore(t), WithLogger(logging.Noop()))
}

// newSemanticService keeps vectors in SQLite and embeds with the hash model.
func newSemanticService(t *testing.T) (*SnippetService, *sqlite.Store) {
	t.Helper()
	store := newSQLiteStore(t)
	return NewSnippetService(store,
		WithEmbedder(embedding.NewHashEmbeddingClient(testDimensions)),
		WithLogger(logging.Noop()),
	), store
}

func smithInput() CreateSnippetInput {
	return CreateSnippetInput{
		Citation:    "Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)",
		KeyLanguage: "duty of care",
		Tags:        []string{"negligence", "tort"},
	}
}

func mustCreate(t *testing.T, s *SnippetService, in CreateSnippetInput) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	return id
}

// memoryIndex is an in-process domain.VectorIndex.
type memoryIndex struct {
	mu      sync.Mutex
	vectors map[int64]domain.Embedding
	tags    map[int64][]string
	upserts int

	failUpserts bool
	failRemoves bool
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{vectors: map[int64]domain.Embedding{}, tags: map[int64][]string{}}
}

func (m *memoryIndex) Upsert(_ context.Context, id int64, vector domain.Embedding, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpserts {
		return errors.New("qdrant: deadline exceeded")
	}
	m.vectors[id] = vector
	m.tags[id] = append([]string(nil), tags...)
	m.upserts++
	return nil
}

func (m *memoryIndex) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRemoves {
		return errors.New("qdrant: unavailable")
	}
	delete(m.vectors, id)
	delete(m.tags, id)
	return nil
}

func (m *memoryIndex) Search(_ context.Context, q domain.SimilarityQuery) ([]domain.ScoredID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []domain.ScoredID
	for id, v := range m.vectors {
		candidate := domain.Snippet{ID: id, Tags: m.tags[id]}
		score := domain.CosineSimilarity(q.Vector, v)
		if q.Accepts(candidate, score) {
			hits = append(hits, domain.ScoredID{ID: id, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (m *memoryIndex) Vector(_ context.Context, id int64) (domain.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vectors[id]
	if !ok {
		return nil, domain.ErrSnippetNotFound
	}
	return v, nil
}

func (m *memoryIndex) Close() error { return nil }

var errBroken = errors.New("connection refused")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Insert(context.Context, *domain.Snippet) (int64, error) { return 0, errBroken }
func (brokenStore) Get(context.Context, int64) (*domain.Snippet, error)    { return nil, errBroken }
func (brokenStore) Replace(context.Context, *domain.Snippet) error         { return errBroken }
func (brokenStore) Delete(context.Context, int64) error                    { return errBroken }
func (brokenStore) List(context.Context, domain.SearchFilter) ([]domain.Snippet, error) {
	return nil, errBroken
}
func (brokenStore) ListChronological(context.Context) ([]domain.Snippet, error) { return nil, errBroken }
func (brokenStore) DistinctTags(context.Context) ([]string, error)             { return nil, errBroken }
func (brokenStore) Close() error                                                { return nil }
