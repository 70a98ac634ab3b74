// Package sqlite is the embedded relational backend. It keeps the same
// table layout as the PostgreSQL backend, with tags stored as JSON text and
// embeddings as float32 blobs ranked in process.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"legal-snippets/domain"
)

const tableName = "legal_snippets"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS legal_snippets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		citation TEXT NOT NULL,
		key_language TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		context TEXT NOT NULL DEFAULT '',
		case_type TEXT NOT NULL DEFAULT 'civil',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		citation_embedding BLOB,
		key_language_embedding BLOB,
		combined_embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_legal_snippets_case_type ON legal_snippets(case_type)`,
	`CREATE INDEX IF NOT EXISTS idx_legal_snippets_updated_at ON legal_snippets(updated_at)`,
}

const recordColumns = "id, citation, key_language, tags, context, case_type, created_at, updated_at"

// snippetRow maps a legal_snippets row.
type snippetRow struct {
	ID                   int64                       `gorm:"column:id;primaryKey"`
	Citation             string                      `gorm:"column:citation"`
	KeyLanguage          string                      `gorm:"column:key_language"`
	Tags                 datatypes.JSONSlice[string] `gorm:"column:tags"`
	Context              string                      `gorm:"column:context"`
	CaseType             string                      `gorm:"column:case_type"`
	CreatedAt            time.Time                   `gorm:"column:created_at"`
	UpdatedAt            time.Time                   `gorm:"column:updated_at"`
	CitationEmbedding    []byte                      `gorm:"column:citation_embedding"`
	KeyLanguageEmbedding []byte                      `gorm:"column:key_language_embedding"`
	CombinedEmbedding    []byte                      `gorm:"column:combined_embedding"`
}

func (snippetRow) TableName() string { return tableName }

func (r snippetRow) toSnippet() domain.Snippet {
	tags := []string(r.Tags)
	if tags == nil {
		tags = []string{}
	}
	return domain.Snippet{
		ID:          r.ID,
		Citation:    r.Citation,
		KeyLanguage: r.KeyLanguage,
		Tags:        tags,
		Context:     r.Context,
		CaseType:    r.CaseType,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

// Store implements domain.SnippetStore and domain.SemanticStore on SQLite.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ domain.SnippetStore    = (*Store)(nil)
	_ domain.SemanticStore   = (*Store)(nil)
	_ domain.EmbeddingWriter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database file at path and ensures the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: s.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite database: %v", domain.ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	s.db = db
	for _, stmt := range schemaStatements {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%w: failed to create schema: %v", domain.ErrStoreUnavailable, err)
		}
	}
	return s, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// Insert stores a new snippet together with its embeddings.
func (s *Store) Insert(ctx context.Context, snippet *domain.Snippet) (int64, error) {
	now := s.now()
	row := snippetRow{
		Citation:    snippet.Citation,
		KeyLanguage: snippet.KeyLanguage,
		Tags:        datatypes.JSONSlice[string](domain.NormalizeTags(snippet.Tags)),
		Context:     snippet.Context,
		CaseType:    snippet.CaseType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if e := snippet.Embeddings; e != nil {
		row.CitationEmbedding = encodeVector(e.Citation)
		row.KeyLanguageEmbedding = encodeVector(e.KeyLanguage)
		row.CombinedEmbedding = encodeVector(e.Combined)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, storeErr("insert", err)
	}

	snippet.ID = row.ID
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	return row.ID, nil
}

// Get returns the snippet with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Snippet, error) {
	var row snippetRow
	err := s.db.WithContext(ctx).Select(recordColumns).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSnippetNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	snippet := row.toSnippet()
	return &snippet, nil
}

// Replace overwrites the mutable fields of a snippet and, when provided,
// its embeddings.
func (s *Store) Replace(ctx context.Context, snippet *domain.Snippet) error {
	current, err := s.Get(ctx, snippet.ID)
	if err != nil {
		return err
	}

	now := s.now()
	if now.Before(current.CreatedAt) {
		now = current.CreatedAt
	}
	updates := map[string]any{
		"citation":     snippet.Citation,
		"key_language": snippet.KeyLanguage,
		"tags":         datatypes.JSONSlice[string](domain.NormalizeTags(snippet.Tags)),
		"context":      snippet.Context,
		"case_type":    snippet.CaseType,
		"updated_at":   now,
	}
	if e := snippet.Embeddings; e != nil {
		updates["citation_embedding"] = encodeVector(e.Citation)
		updates["key_language_embedding"] = encodeVector(e.KeyLanguage)
		updates["combined_embedding"] = encodeVector(e.Combined)
	}

	result := s.db.WithContext(ctx).Model(&snippetRow{}).Where("id = ?", snippet.ID).Updates(updates)
	if result.Error != nil {
		return storeErr("replace", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSnippetNotFound
	}
	snippet.CreatedAt = current.CreatedAt
	snippet.UpdatedAt = now
	return nil
}

// UpdateEmbeddings rewrites the vectors of a snippet.
func (s *Store) UpdateEmbeddings(ctx context.Context, id int64, e *domain.SnippetEmbeddings) error {
	result := s.db.WithContext(ctx).Model(&snippetRow{}).Where("id = ?", id).UpdateColumns(map[string]any{
		"citation_embedding":     encodeVector(e.Citation),
		"key_language_embedding": encodeVector(e.KeyLanguage),
		"combined_embedding":     encodeVector(e.Combined),
	})
	if result.Error != nil {
		return storeErr("update embeddings", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSnippetNotFound
	}
	return nil
}

// Delete removes a snippet row, embeddings included.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&snippetRow{})
	if result.Error != nil {
		return storeErr("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSnippetNotFound
	}
	return nil
}

// escapeLike escapes the LIKE wildcards in a user query.
func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}

// filtered applies a SearchFilter to a query. SQLite's LIKE folds ASCII case.
func filtered(tx *gorm.DB, filter domain.SearchFilter) *gorm.DB {
	if filter.Query != "" {
		pattern := "%" + escapeLike(filter.Query) + "%"
		tx = tx.Where(`(citation LIKE ? ESCAPE '\' OR key_language LIKE ? ESCAPE '\' OR context LIKE ? ESCAPE '\')`, pattern, pattern, pattern)
	}
	if len(filter.Tags) > 0 {
		tx = tx.Where("EXISTS (SELECT 1 FROM json_each(legal_snippets.tags) WHERE json_each.value IN ?)", filter.Tags)
	}
	return tx
}

func toSnippets(rows []snippetRow) []domain.Snippet {
	snippets := make([]domain.Snippet, 0, len(rows))
	for _, row := range rows {
		snippets = append(snippets, row.toSnippet())
	}
	return snippets
}

// List returns the snippets matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter domain.SearchFilter) ([]domain.Snippet, error) {
	var rows []snippetRow
	tx := filtered(s.db.WithContext(ctx).Select(recordColumns), filter)
	if err := tx.Order("updated_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, storeErr("list", err)
	}
	return toSnippets(rows), nil
}

// ListChronological returns every snippet, oldest first.
func (s *Store) ListChronological(ctx context.Context) ([]domain.Snippet, error) {
	var rows []snippetRow
	err := s.db.WithContext(ctx).Select(recordColumns).Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, storeErr("list", err)
	}
	return toSnippets(rows), nil
}

// DistinctTags returns the sorted set of tags in use.
func (s *Store) DistinctTags(ctx context.Context) ([]string, error) {
	tags := []string{}
	err := s.db.WithContext(ctx).
		Raw("SELECT DISTINCT json_each.value AS tag FROM legal_snippets, json_each(legal_snippets.tags) ORDER BY tag").
		Scan(&tags).Error
	if err != nil {
		return nil, storeErr("distinct tags", err)
	}
	return tags, nil
}

// SimilarTo ranks every snippet with a combined embedding against q.
// Equal scores are ordered by id.
func (s *Store) SimilarTo(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredSnippet, error) {
	var rows []snippetRow
	tx := filtered(s.db.WithContext(ctx).Select(recordColumns+", combined_embedding"), domain.SearchFilter{Tags: q.Tags})
	if err := tx.Where("combined_embedding IS NOT NULL").Find(&rows).Error; err != nil {
		return nil, storeErr("similarity search", err)
	}

	results := []domain.ScoredSnippet{}
	for _, row := range rows {
		vector, err := decodeVector(row.CombinedEmbedding)
		if err != nil {
			return nil, storeErr("similarity search", err)
		}
		snippet := row.toSnippet()
		score := domain.CosineSimilarity(q.Vector, vector)
		if !q.Accepts(snippet, score) {
			continue
		}
		results = append(results, domain.ScoredSnippet{Snippet: snippet, SimilarityScore: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].ID < results[j].ID
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// CombinedEmbedding returns the stored combined embedding of a snippet.
func (s *Store) CombinedEmbedding(ctx context.Context, id int64) (domain.Embedding, error) {
	var row snippetRow
	err := s.db.WithContext(ctx).Select("id, combined_embedding").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSnippetNotFound
	}
	if err != nil {
		return nil, storeErr("get embedding", err)
	}
	vector, err := decodeVector(row.CombinedEmbedding)
	if err != nil {
		return nil, storeErr("get embedding", err)
	}
	if vector == nil {
		return nil, fmt.Errorf("snippet %d has no embedding", id)
	}
	return vector, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
