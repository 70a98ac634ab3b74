package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-snippets/domain"
)

// openTestStore connects to TEST_DATABASE_URL and starts from an empty table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, dsn, Options{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.db.Exec(`DROP TABLE IF EXISTS legal_snippets`).Error)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestStoreIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	available, err := s.VectorExtensionAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available)

	create := func(citation string, vector domain.Embedding, tags ...string) int64 {
		id, err := s.Insert(ctx, &domain.Snippet{
			Citation:    citation,
			KeyLanguage: "duty of care",
			Tags:        tags,
			CaseType:    domain.DefaultCaseType,
			Embeddings:  &domain.SnippetEmbeddings{Citation: vector, KeyLanguage: vector, Combined: vector},
		})
		require.NoError(t, err)
		return id
	}

	smith := create("Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)", domain.Embedding{1, 0, 0}, "negligence", "tort")
	roe := create("Roe v. Doe", domain.Embedding{0.8, 0.2, 0}, "tort")
	acme := create("Acme v. Widget", domain.Embedding{0, 0, 1}, "contract")

	got, err := s.Get(ctx, smith)
	require.NoError(t, err)
	assert.Equal(t, []string{"negligence", "tort"}, got.Tags)
	assert.Equal(t, "", got.Context)

	found, err := s.List(ctx, domain.SearchFilter{Query: "smith"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, smith, found[0].ID)

	tags, err := s.DistinctTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"contract", "negligence", "tort"}, tags)

	threshold := 0.5
	similar, err := s.SimilarTo(ctx, domain.SimilarityQuery{Vector: domain.Embedding{1, 0, 0}, Limit: 10, Threshold: &threshold})
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, smith, similar[0].ID)
	assert.Equal(t, roe, similar[1].ID)
	assert.InDelta(t, 1.0, similar[0].SimilarityScore, 1e-6)

	tooHigh := 1.1
	similar, err = s.SimilarTo(ctx, domain.SimilarityQuery{Vector: domain.Embedding{1, 0, 0}, Threshold: &tooHigh})
	require.NoError(t, err)
	assert.Empty(t, similar)

	vector, err := s.CombinedEmbedding(ctx, smith)
	require.NoError(t, err)
	similar, err = s.SimilarTo(ctx, domain.SimilarityQuery{Vector: vector, Limit: 5, ExcludeID: smith})
	require.NoError(t, err)
	for _, r := range similar {
		assert.NotEqual(t, smith, r.ID)
	}

	got.Tags = []string{"tort"}
	require.NoError(t, s.Replace(ctx, got))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.NoError(t, s.Delete(ctx, acme))
	assert.ErrorIs(t, s.Delete(ctx, acme), domain.ErrSnippetNotFound)
	_, err = s.Get(ctx, acme)
	assert.ErrorIs(t, err, domain.ErrSnippetNotFound)

	all, err := s.ListChronological(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
