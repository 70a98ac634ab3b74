package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-snippets/domain"
)

func tickingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "snippets.db"), WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t *testing.T, s *Store, citation string, vector domain.Embedding, tags ...string) int64 {
	t.Helper()
	snippet := &domain.Snippet{
		Citation:    citation,
		KeyLanguage: "holding of " + citation,
		Tags:        tags,
		CaseType:    domain.DefaultCaseType,
	}
	if vector != nil {
		snippet.Embeddings = &domain.SnippetEmbeddings{Citation: vector, KeyLanguage: vector, Combined: vector}
	}
	id, err := s.Insert(context.Background(), snippet)
	require.NoError(t, err)
	return id
}

func snippetIDs(snippets []domain.Snippet) []int64 {
	var out []int64
	for _, s := range snippets {
		out = append(out, s.ID)
	}
	return out
}

func scoredIDs(snippets []domain.ScoredSnippet) []int64 {
	var out []int64
	for _, s := range snippets {
		out = append(out, s.ID)
	}
	return out
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := insert(t, s, "Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)", nil, "negligence", "tort", " tort ")
	got, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)", got.Citation)
	assert.Equal(t, []string{"negligence", "tort"}, got.Tags)
	assert.Equal(t, domain.CaseTypeCivil, got.CaseType)
	assert.True(t, got.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)))
	assert.True(t, got.UpdatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.Embeddings)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrSnippetNotFound)
}

func TestIDsNeverReused(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insert(t, s, "A v. B", nil)
	second := insert(t, s, "C v. D", nil)
	require.NoError(t, s.Delete(ctx, second))

	third := insert(t, s, "E v. F", nil)
	assert.Greater(t, third, second)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insert(t, s, "A v. B", domain.Embedding{1, 0, 0}, "contract")

	snippet, err := s.Get(ctx, id)
	require.NoError(t, err)
	snippet.Tags = []string{"tort"}
	snippet.Context = ""
	require.NoError(t, s.Replace(ctx, snippet))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"tort"}, got.Tags)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	// Nil embeddings keep the stored vector.
	vector, err := s.CombinedEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Embedding{1, 0, 0}, vector)

	snippet.Embeddings = &domain.SnippetEmbeddings{Combined: domain.Embedding{0, 1, 0}}
	require.NoError(t, s.Replace(ctx, snippet))
	vector, err = s.CombinedEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Embedding{0, 1, 0}, vector)

	missing := *snippet
	missing.ID = 999
	assert.ErrorIs(t, s.Replace(ctx, &missing), domain.ErrSnippetNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insert(t, s, "A v. B", domain.Embedding{1, 0, 0})

	require.NoError(t, s.Delete(ctx, id))
	_, err := s.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSnippetNotFound)
	_, err = s.CombinedEmbedding(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSnippetNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), domain.ErrSnippetNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	smith := insert(t, s, "Smith v. Jones", nil, "negligence")
	acme := insert(t, s, "Acme Corp. v. Widget 50% Co.", nil, "contract")
	roe := insert(t, s, "Roe v. Doe", nil, "contract", "tort")

	tests := []struct {
		name   string
		filter domain.SearchFilter
		want   []int64
	}{
		{"everything newest first", domain.SearchFilter{}, []int64{roe, acme, smith}},
		{"case insensitive query", domain.SearchFilter{Query: "SMITH"}, []int64{smith}},
		{"query matches key language", domain.SearchFilter{Query: "holding of roe"}, []int64{roe}},
		{"wildcards are literal", domain.SearchFilter{Query: "50%"}, []int64{acme}},
		{"underscore is literal", domain.SearchFilter{Query: "_"}, nil},
		{"any tag", domain.SearchFilter{Tags: []string{"negligence", "tort"}}, []int64{roe, smith}},
		{"query and tags", domain.SearchFilter{Query: "v.", Tags: []string{"contract"}}, []int64{roe, acme}},
		{"no match", domain.SearchFilter{Tags: []string{"criminal"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, snippetIDs(got))
		})
	}
}

func TestListChronologicalAndTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := insert(t, s, "A v. B", nil, "tort", "contract")
	second := insert(t, s, "C v. D", nil, "contract", "Tort")

	// Touching the first snippet must not change export order.
	snippet, err := s.Get(ctx, first)
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, snippet))

	all, err := s.ListChronological(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{first, second}, snippetIDs(all))

	tags, err := s.DistinctTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tort", "contract", "tort"}, tags)
}

func TestSimilarTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	exact := insert(t, s, "Exact", domain.Embedding{1, 0, 0}, "negligence")
	near := insert(t, s, "Near", domain.Embedding{0.9, 0.1, 0}, "tort")
	tie := insert(t, s, "Tie", domain.Embedding{2, 0, 0}, "tort")
	far := insert(t, s, "Far", domain.Embedding{0, 1, 0}, "contract")
	insert(t, s, "Plain", nil, "tort")

	threshold := func(v float64) *float64 { return &v }
	query := domain.Embedding{1, 0, 0}

	tests := []struct {
		name string
		q    domain.SimilarityQuery
		want []int64
	}{
		{"ranked with id tie-break", domain.SimilarityQuery{Vector: query}, []int64{exact, tie, near, far}},
		{"limit", domain.SimilarityQuery{Vector: query, Limit: 2}, []int64{exact, tie}},
		{"threshold", domain.SimilarityQuery{Vector: query, Threshold: threshold(0.5)}, []int64{exact, tie, near}},
		{"threshold above one", domain.SimilarityQuery{Vector: query, Threshold: threshold(1.1)}, nil},
		{"tag prefilter", domain.SimilarityQuery{Vector: query, Tags: []string{"tort"}}, []int64{tie, near}},
		{"exclude", domain.SimilarityQuery{Vector: query, ExcludeID: exact}, []int64{tie, near, far}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SimilarTo(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, scoredIDs(got))
			for _, r := range got {
				assert.LessOrEqual(t, r.SimilarityScore, 1.0+1e-9)
			}
		})
	}
}

func TestCombinedEmbeddingMissingVector(t *testing.T) {
	s := newTestStore(t)
	id := insert(t, s, "Plain", nil)

	_, err := s.CombinedEmbedding(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSnippetNotFound)
}

func TestVectorEncoding(t *testing.T) {
	v := domain.Embedding{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}

func TestUpdateEmbeddingsKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insert(t, s, "A v. B", domain.Embedding{1, 0, 0})
	before, err := s.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.UpdateEmbeddings(ctx, id, &domain.SnippetEmbeddings{Combined: domain.Embedding{0, 0, 1}}))

	after, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	vector, err := s.CombinedEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Embedding{0, 0, 1}, vector)

	assert.ErrorIs(t, s.UpdateEmbeddings(ctx, 999, &domain.SnippetEmbeddings{}), domain.ErrSnippetNotFound)
}
