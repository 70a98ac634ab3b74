// Package postgres is the PostgreSQL backend. Embeddings live in pgvector
// columns and similarity ranking is done by the database.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"legal-snippets/domain"
)

const selectColumns = `id, citation, key_language,
	COALESCE(to_json(tags), '[]'::json) AS tags,
	COALESCE(context, '') AS context,
	COALESCE(case_type, 'civil') AS case_type,
	created_at, updated_at`

type snippetRow struct {
	ID              int64                       `gorm:"column:id"`
	Citation        string                      `gorm:"column:citation"`
	KeyLanguage     string                      `gorm:"column:key_language"`
	Tags            datatypes.JSONSlice[string] `gorm:"column:tags"`
	Context         string                      `gorm:"column:context"`
	CaseType        string                      `gorm:"column:case_type"`
	CreatedAt       time.Time                   `gorm:"column:created_at"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at"`
	SimilarityScore float64                     `gorm:"column:similarity_score"`
}

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

// Options configures the connection pool and vector width.
type Options struct {
	Dimensions      int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Now             func() time.Time
}

// Store implements domain.SnippetStore and domain.SemanticStore on PostgreSQL.
type Store struct {
	db         *gorm.DB
	dimensions int
	now        func() time.Time
}

var (
	_ domain.SnippetStore    = (*Store)(nil)
	_ domain.SemanticStore   = (*Store)(nil)
	_ domain.EmbeddingWriter = (*Store)(nil)
)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = domain.DefaultEmbeddingDimensions
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", domain.ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", domain.ErrStoreUnavailable, err)
	}

	return &Store{db: db, dimensions: opts.Dimensions, now: opts.Now}, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// Insert stores a new snippet with its embeddings.
func (s *Store) Insert(ctx context.Context, snippet *domain.Snippet) (int64, error) {
	var citationVec, keyLanguageVec, combinedVec domain.Embedding
	if e := snippet.Embeddings; e != nil {
		citationVec, keyLanguageVec, combinedVec = e.Citation, e.KeyLanguage, e.Combined
	}

	now := s.now()
	var id int64
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO legal_snippets
			(citation, key_language, tags, context, case_type, created_at, updated_at,
			 citation_embedding, key_language_embedding, combined_embedding)
		VALUES (?, ?, ?::text[], ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		snippet.Citation, snippet.KeyLanguage, textArray(domain.NormalizeTags(snippet.Tags)),
		snippet.Context, snippet.CaseType, now, now,
		vectorArg(citationVec), vectorArg(keyLanguageVec), vectorArg(combinedVec),
	).Scan(&id).Error
	if err != nil {
		return 0, storeErr("insert", err)
	}

	snippet.ID = id
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	return id, nil
}

// Get returns the snippet with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Snippet, error) {
	var rows []snippetRow
	err := s.db.WithContext(ctx).
		Raw(`SELECT `+selectColumns+` FROM legal_snippets WHERE id = ?`, id).
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("get", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrSnippetNotFound
	}
	snippet := rows[0].toSnippet()
	return &snippet, nil
}

// Replace overwrites the mutable fields of a snippet in a single statement.
// updated_at never moves before created_at.
func (s *Store) Replace(ctx context.Context, snippet *domain.Snippet) error {
	set := []string{
		"citation = ?", "key_language = ?", "tags = ?::text[]", "context = ?", "case_type = ?",
		"updated_at = GREATEST(?::timestamp, created_at)",
	}
	args := []any{
		snippet.Citation, snippet.KeyLanguage, textArray(domain.NormalizeTags(snippet.Tags)),
		snippet.Context, snippet.CaseType, s.now(),
	}
	if e := snippet.Embeddings; e != nil {
		set = append(set, "citation_embedding = ?", "key_language_embedding = ?", "combined_embedding = ?")
		args = append(args, vectorArg(e.Citation), vectorArg(e.KeyLanguage), vectorArg(e.Combined))
	}
	args = append(args, snippet.ID)

	var rows []snippetRow
	err := s.db.WithContext(ctx).
		Raw(`UPDATE legal_snippets SET `+strings.Join(set, ", ")+` WHERE id = ? RETURNING created_at, updated_at`, args...).
		Scan(&rows).Error
	if err != nil {
		return storeErr("replace", err)
	}
	if len(rows) == 0 {
		return domain.ErrSnippetNotFound
	}
	snippet.CreatedAt = rows[0].CreatedAt.UTC()
	snippet.UpdatedAt = rows[0].UpdatedAt.UTC()
	return nil
}

// UpdateEmbeddings rewrites the vectors of a snippet.
func (s *Store) UpdateEmbeddings(ctx context.Context, id int64, e *domain.SnippetEmbeddings) error {
	result := s.db.WithContext(ctx).Exec(`
		UPDATE legal_snippets
		SET citation_embedding = ?, key_language_embedding = ?, combined_embedding = ?
		WHERE id = ?`,
		vectorArg(e.Citation), vectorArg(e.KeyLanguage), vectorArg(e.Combined), id)
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
	result := s.db.WithContext(ctx).Exec(`DELETE FROM legal_snippets WHERE id = ?`, id)
	if result.Error != nil {
		return storeErr("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSnippetNotFound
	}
	return nil
}

// whereClause renders a SearchFilter as SQL conditions.
func whereClause(filter domain.SearchFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Query != "" {
		pattern := "%" + escapeLike(filter.Query) + "%"
		conds = append(conds, "(citation ILIKE ? OR key_language ILIKE ? OR context ILIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if len(filter.Tags) > 0 {
		conds = append(conds, "tags && ?::text[]")
		args = append(args, textArray(filter.Tags))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]domain.Snippet, error) {
	var rows []snippetRow
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, storeErr(op, err)
	}
	snippets := make([]domain.Snippet, 0, len(rows))
	for _, row := range rows {
		snippets = append(snippets, row.toSnippet())
	}
	return snippets, nil
}

// List returns the snippets matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter domain.SearchFilter) ([]domain.Snippet, error) {
	where, args := whereClause(filter)
	return s.query(ctx, "list",
		`SELECT `+selectColumns+` FROM legal_snippets`+where+` ORDER BY updated_at DESC, id DESC`, args...)
}

// ListChronological returns every snippet, oldest first.
func (s *Store) ListChronological(ctx context.Context) ([]domain.Snippet, error) {
	return s.query(ctx, "list", `SELECT `+selectColumns+` FROM legal_snippets ORDER BY created_at ASC, id ASC`)
}

// DistinctTags returns the sorted set of tags in use.
func (s *Store) DistinctTags(ctx context.Context) ([]string, error) {
	tags := []string{}
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT unnest(tags) AS tag FROM legal_snippets ORDER BY tag`).
		Scan(&tags).Error
	if err != nil {
		return nil, storeErr("distinct tags", err)
	}
	return tags, nil
}

// SimilarTo ranks snippets by cosine similarity of the combined embedding.
// Equal distances are ordered by id.
func (s *Store) SimilarTo(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredSnippet, error) {
	vector := pgvector.NewVector(q.Vector)

	conds := []string{"combined_embedding IS NOT NULL"}
	args := []any{vector}
	if len(q.Tags) > 0 {
		conds = append(conds, "tags && ?::text[]")
		args = append(args, textArray(q.Tags))
	}
	if q.Threshold != nil {
		conds = append(conds, "1 - (combined_embedding <=> ?) >= ?")
		args = append(args, vector, *q.Threshold)
	}
	if q.ExcludeID != 0 {
		conds = append(conds, "id <> ?")
		args = append(args, q.ExcludeID)
	}
	sql := `SELECT ` + selectColumns + `, 1 - (combined_embedding <=> ?) AS similarity_score
		FROM legal_snippets
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY combined_embedding <=> ?, id`
	args = append(args, vector)
	if q.Limit > 0 {
		sql += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var rows []snippetRow
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, storeErr("similarity search", err)
	}
	results := make([]domain.ScoredSnippet, 0, len(rows))
	for _, row := range rows {
		results = append(results, domain.ScoredSnippet{Snippet: row.toSnippet(), SimilarityScore: row.SimilarityScore})
	}
	return results, nil
}

// CombinedEmbedding returns the stored combined embedding of a snippet.
func (s *Store) CombinedEmbedding(ctx context.Context, id int64) (domain.Embedding, error) {
	var rows []struct {
		ID       int64            `gorm:"column:id"`
		Combined *pgvector.Vector `gorm:"column:combined_embedding"`
	}
	err := s.db.WithContext(ctx).
		Raw(`SELECT id, combined_embedding FROM legal_snippets WHERE id = ?`, id).
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("get embedding", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrSnippetNotFound
	}
	if rows[0].Combined == nil {
		return nil, fmt.Errorf("snippet %d has no embedding", id)
	}
	return domain.Embedding(rows[0].Combined.Slice()), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
