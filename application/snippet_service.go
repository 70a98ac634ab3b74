package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"legal-snippets/domain"
)

const (
	DefaultSearchLimit  = 10
	DefaultSimilarLimit = 5

	// DefaultSimilarityThreshold applies when neither the caller nor the
	// configuration supplies one.
	DefaultSimilarityThreshold = 0.7
)

// CreateSnippetInput is the input of create_snippet.
type CreateSnippetInput struct {
	Citation    string   `json:"citation" validate:"required" jsonschema_description:"Case citation, e.g. \"Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)\"."`
	KeyLanguage string   `json:"key_language" validate:"required" jsonschema_description:"The quoted legal language from the case."`
	Tags        []string `json:"tags" validate:"required" jsonschema_description:"Categorization tags such as contract, damages or breach. May be empty."`
	Context     string   `json:"context,omitempty" jsonschema_description:"Additional notes and surrounding context."`
	CaseType    string   `json:"case_type,omitempty" jsonschema:"default=civil" jsonschema_description:"Type of case: civil, criminal, administrative or constitutional."`
}

// SearchSnippetsInput is the input of search_snippets.
type SearchSnippetsInput struct {
	Query string   `json:"query,omitempty" jsonschema_description:"Case-insensitive text matched against citation, key language and context."`
	Tags  []string `json:"tags,omitempty" jsonschema_description:"Return snippets carrying any of these tags."`
}

// SemanticSearchInput is the input of semantic_search.
type SemanticSearchInput struct {
	Query               string   `json:"query" validate:"required" jsonschema_description:"Natural-language description of the legal concept to find."`
	Limit               int      `json:"limit,omitempty" jsonschema:"default=10" jsonschema_description:"Maximum number of results. Zero or less uses the default."`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty" jsonschema_description:"Minimum cosine similarity, inclusive. Defaults to the configured threshold."`
	Tags                []string `json:"tags,omitempty" jsonschema_description:"Only consider snippets carrying any of these tags."`
}

// UpdateSnippetInput is the input of update_snippet. Omitted fields are left
// unchanged; an empty context or tag list clears the field.
type UpdateSnippetInput struct {
	SnippetID   int64     `json:"snippet_id" jsonschema_description:"Id of the snippet to update."`
	Citation    *string   `json:"citation,omitempty" jsonschema_description:"New citation."`
	KeyLanguage *string   `json:"key_language,omitempty" jsonschema_description:"New key language."`
	Tags        *[]string `json:"tags,omitempty" jsonschema_description:"Replacement tag list."`
	Context     *string   `json:"context,omitempty" jsonschema_description:"New context. An empty string clears it."`
	CaseType    *string   `json:"case_type,omitempty" jsonschema_description:"New case type."`
}

// Patch converts the input into a domain patch.
func (in UpdateSnippetInput) Patch() domain.SnippetPatch {
	return domain.SnippetPatch{
		Citation:    in.Citation,
		KeyLanguage: in.KeyLanguage,
		Tags:        in.Tags,
		Context:     in.Context,
		CaseType:    in.CaseType,
	}
}

// SnippetService implements every snippet operation on top of a store and,
// when available, an embedding model and a source of vectors.
type SnippetService struct {
	store     domain.SnippetStore
	semantic  domain.SemanticStore
	index     domain.VectorIndex
	embedder  domain.EmbeddingClient
	threshold float64
	validate  *validator.Validate
	logger    *slog.Logger
}

// ServiceOption configures a SnippetService.
type ServiceOption func(*SnippetService)

// WithEmbedder enables semantic operations when the store keeps vectors or
// a vector index is attached.
func WithEmbedder(embedder domain.EmbeddingClient) ServiceOption {
	return func(s *SnippetService) { s.embedder = embedder }
}

// WithVectorIndex attaches an external vector index that receives the
// combined embedding of every snippet.
func WithVectorIndex(index domain.VectorIndex) ServiceOption {
	return func(s *SnippetService) { s.index = index }
}

// WithDefaultThreshold sets the similarity floor used when a search omits one.
func WithDefaultThreshold(threshold float64) ServiceOption {
	return func(s *SnippetService) { s.threshold = threshold }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *SnippetService) { s.logger = logger }
}

// NewSnippetService creates a SnippetService over store.
func NewSnippetService(store domain.SnippetStore, opts ...ServiceOption) *SnippetService {
	s := &SnippetService{
		store:     store,
		threshold: DefaultSimilarityThreshold,
		validate:  newValidator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.embedder != nil {
		switch {
		case s.index != nil:
			s.semantic = NewIndexedSemanticStore(store, s.index)
		default:
			if semantic, ok := store.(domain.SemanticStore); ok {
				s.semantic = semantic
			}
		}
	}
	return s
}

// SemanticEnabled reports whether semantic_search and find_similar_snippets work.
func (s *SnippetService) SemanticEnabled() bool {
	return s.semantic != nil
}

// embeddingsFor generates the three vectors of a snippet when vectors are kept.
func (s *SnippetService) embeddingsFor(ctx context.Context, snippet domain.Snippet) (*domain.SnippetEmbeddings, error) {
	if s.semantic == nil {
		return nil, nil
	}
	return domain.GenerateSnippetEmbeddings(ctx, s.embedder, snippet)
}

// syncIndex mirrors a snippet's combined vector and tags into the vector
// index. When the upsert fails the point is removed, so the index never
// answers with a vector of stale text; the reembed command restores it.
func (s *SnippetService) syncIndex(ctx context.Context, snippet domain.Snippet) error {
	if s.index == nil || snippet.Embeddings == nil {
		return nil
	}
	err := s.index.Upsert(ctx, snippet.ID, snippet.Embeddings.Combined, snippet.Tags)
	if err == nil {
		return nil
	}
	s.logger.Warn("failed to index snippet, dropping it from the index", "snippet_id", snippet.ID, "error", err)
	if removeErr := s.index.Remove(ctx, snippet.ID); removeErr != nil {
		return fmt.Errorf("snippet %d saved but its index entry could not be refreshed or removed: %w", snippet.ID, errors.Join(err, removeErr))
	}
	return nil
}

// Create validates and stores a new snippet and returns its id.
func (s *SnippetService) Create(ctx context.Context, in CreateSnippetInput) (int64, error) {
	if err := s.validate.Struct(in); err != nil {
		return 0, validationError(err)
	}
	caseType := in.CaseType
	if caseType == "" {
		caseType = domain.DefaultCaseType
	}

	snippet := domain.Snippet{
		Citation:    in.Citation,
		KeyLanguage: in.KeyLanguage,
		Tags:        domain.NormalizeTags(in.Tags),
		Context:     in.Context,
		CaseType:    caseType,
	}
	embeddings, err := s.embeddingsFor(ctx, snippet)
	if err != nil {
		return 0, err
	}
	snippet.Embeddings = embeddings

	id, err := s.store.Insert(ctx, &snippet)
	if err != nil {
		return 0, err
	}
	if err := s.syncIndex(ctx, snippet); err != nil {
		return id, err
	}

	s.logger.Info("snippet created", "snippet_id", id, "citation", snippet.Citation)
	return id, nil
}

// Search returns the snippets matching query and tags, most recently updated
// first. With no criteria it returns every snippet.
func (s *SnippetService) Search(ctx context.Context, query string, tags []string) ([]domain.Snippet, error) {
	return s.store.List(ctx, domain.SearchFilter{Query: query, Tags: domain.NormalizeTags(tags)})
}

// SemanticSearch ranks snippets by similarity to a free-text query.
func (s *SnippetService) SemanticSearch(ctx context.Context, in SemanticSearchInput) ([]domain.ScoredSnippet, error) {
	if s.semantic == nil {
		return nil, domain.ErrSemanticSearchUnavailable
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{in.Query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", domain.ErrEmbeddingUnavailable, len(vectors))
	}

	limit := in.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	threshold := s.threshold
	if in.SimilarityThreshold != nil {
		threshold = *in.SimilarityThreshold
	}

	return s.semantic.SimilarTo(ctx, domain.SimilarityQuery{
		Vector:    vectors[0],
		Limit:     limit,
		Threshold: &threshold,
		Tags:      domain.NormalizeTags(in.Tags),
	})
}

// RelatedSnippets implements domain.SnippetRetriever for the chat agent.
func (s *SnippetService) RelatedSnippets(ctx context.Context, text string, k int) ([]domain.ScoredSnippet, error) {
	return s.SemanticSearch(ctx, SemanticSearchInput{Query: text, Limit: k})
}

// Get returns a snippet by id.
func (s *SnippetService) Get(ctx context.Context, id int64) (*domain.Snippet, error) {
	return s.store.Get(ctx, id)
}

// Update applies a partial update. Embeddings are regenerated when the
// citation, key language or context change.
func (s *SnippetService) Update(ctx context.Context, id int64, patch domain.SnippetPatch) error {
	if patch.Citation != nil && *patch.Citation == "" {
		return fmt.Errorf("%w: citation cannot be empty", domain.ErrInvalidSnippet)
	}
	if patch.KeyLanguage != nil && *patch.KeyLanguage == "" {
		return fmt.Errorf("%w: key_language cannot be empty", domain.ErrInvalidSnippet)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	updated, textChanged := domain.ApplyPatch(*current, patch)

	// The index keeps tags next to the vector, so tag edits need a vector too.
	if textChanged || (s.index != nil && patch.Tags != nil) {
		embeddings, err := s.embeddingsFor(ctx, updated)
		if err != nil {
			return err
		}
		updated.Embeddings = embeddings
	}

	if err := s.store.Replace(ctx, &updated); err != nil {
		return err
	}
	if err := s.syncIndex(ctx, updated); err != nil {
		return err
	}

	s.logger.Info("snippet updated", "snippet_id", id, "reembedded", updated.Embeddings != nil)
	return nil
}

// Delete removes a snippet and its embeddings.
func (s *SnippetService) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, id); err != nil {
			s.logger.Warn("failed to remove snippet from index", "snippet_id", id, "error", err)
		}
	}
	s.logger.Info("snippet deleted", "snippet_id", id)
	return nil
}

// ListTags returns every tag in use, sorted.
func (s *SnippetService) ListTags(ctx context.Context) ([]string, error) {
	return s.store.DistinctTags(ctx)
}

// FindSimilar ranks snippets by similarity to an existing snippet, which is
// never part of the result. No similarity floor applies.
func (s *SnippetService) FindSimilar(ctx context.Context, id int64, limit int) ([]domain.ScoredSnippet, error) {
	if s.semantic == nil {
		return nil, domain.ErrSemanticSearchUnavailable
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	vector, err := s.semantic.CombinedEmbedding(ctx, id)
	if errors.Is(err, domain.ErrSnippetNotFound) {
		return nil, fmt.Errorf("snippet %d has no embedding", id)
	}
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	return s.semantic.SimilarTo(ctx, domain.SimilarityQuery{
		Vector:    vector,
		Limit:     limit,
		ExcludeID: id,
	})
}

// Export renders every snippet, oldest first. format "text" produces a
// readable log; any other value produces indented JSON.
func (s *SnippetService) Export(ctx context.Context, format string) (string, error) {
	snippets, err := s.store.ListChronological(ctx)
	if err != nil {
		return "", err
	}
	if format == "text" {
		return exportText(snippets), nil
	}

	data, err := json.MarshalIndent(snippets, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snippets: %w", err)
	}
	return string(data), nil
}

func exportText(snippets []domain.Snippet) string {
	var b strings.Builder
	for _, sn := range snippets {
		fmt.Fprintf(&b, "ID: %d\n", sn.ID)
		fmt.Fprintf(&b, "Citation: %s\n", sn.Citation)
		fmt.Fprintf(&b, "Key Language: %s\n", sn.KeyLanguage)
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(sn.Tags, ", "))
		if sn.Context != "" {
			fmt.Fprintf(&b, "Context: %s\n", sn.Context)
		}
		fmt.Fprintf(&b, "Case Type: %s\n", sn.CaseType)
		fmt.Fprintf(&b, "Created: %s\n", sn.CreatedAt.Format(time.RFC3339))
		b.WriteString(strings.Repeat("-", 50) + "\n")
	}
	return b.String()
}
