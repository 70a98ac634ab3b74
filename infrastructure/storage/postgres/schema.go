package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema enables pgvector and creates the table and its indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS legal_snippets (
			id SERIAL PRIMARY KEY,
			citation TEXT NOT NULL,
			key_language TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			context TEXT DEFAULT '',
			case_type TEXT DEFAULT 'civil',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			citation_embedding vector(%[1]d),
			key_language_embedding vector(%[1]d),
			combined_embedding vector(%[1]d)
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_legal_snippets_tags ON legal_snippets USING GIN(tags)`,
		`CREATE INDEX IF NOT EXISTS idx_legal_snippets_case_type ON legal_snippets(case_type)`,
		`CREATE INDEX IF NOT EXISTS idx_legal_snippets_combined_embedding
			ON legal_snippets USING ivfflat (combined_embedding vector_cosine_ops)
			WITH (lists = 100)`,
	}
	for _, stmt := range statements {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return storeErr("ensure schema", err)
		}
	}
	return nil
}

// VectorExtensionAvailable reports whether the server can install pgvector.
func (s *Store) VectorExtensionAvailable(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM pg_available_extensions WHERE name = 'vector'`).
		Scan(&count).Error
	if err != nil {
		return false, storeErr("check extensions", err)
	}
	return count > 0, nil
}
