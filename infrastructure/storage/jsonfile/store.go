// Package jsonfile stores snippets in a single JSON document on disk.
//
// Every mutation reads the whole document, changes it in memory and writes
// it back through a temporary file and a rename, so readers never observe a
// partially written file. A mutex serializes callers inside one process;
// separate processes sharing the file are not coordinated.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"legal-snippets/domain"
)

// document is the on-disk shape: {"snippets": [...], "next_id": n}.
type document struct {
	Snippets []domain.Snippet `json:"snippets"`
	NextID   int64            `json:"next_id"`
}

// Store implements domain.SnippetStore on a JSON file.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

var _ domain.SnippetStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store backed by the file at path. The file is created on the
// first write.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{Snippets: []domain.Snippet{}, NextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", domain.ErrStoreUnavailable, s.path, err)
	}

	doc := &document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", domain.ErrStoreUnavailable, s.path, err)
	}
	if doc.Snippets == nil {
		doc.Snippets = []domain.Snippet{}
	}
	for i := range doc.Snippets {
		if doc.Snippets[i].Tags == nil {
			doc.Snippets[i].Tags = []string{}
		}
		if doc.Snippets[i].ID >= doc.NextID {
			doc.NextID = doc.Snippets[i].ID + 1
		}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, nil
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snippets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create directory: %v", domain.ErrStoreUnavailable, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", domain.ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write snippets: %v", domain.ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to write snippets: %v", domain.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: failed to replace %s: %v", domain.ErrStoreUnavailable, s.path, err)
	}
	return nil
}

// Insert appends a snippet and advances next_id.
func (s *Store) Insert(ctx context.Context, snippet *domain.Snippet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}

	now := s.now()
	stored := *snippet
	stored.ID = doc.NextID
	stored.Tags = domain.NormalizeTags(snippet.Tags)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Embeddings = nil

	doc.Snippets = append(doc.Snippets, stored)
	doc.NextID++

	if err := s.save(doc); err != nil {
		return 0, err
	}

	snippet.ID = stored.ID
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	return stored.ID, nil
}

// Get returns the snippet with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Snippets {
		if doc.Snippets[i].ID == id {
			found := doc.Snippets[i]
			return &found, nil
		}
	}
	return nil, domain.ErrSnippetNotFound
}

// Replace overwrites the mutable fields of an existing snippet.
func (s *Store) Replace(ctx context.Context, snippet *domain.Snippet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i := range doc.Snippets {
		current := &doc.Snippets[i]
		if current.ID != snippet.ID {
			continue
		}

		now := s.now()
		if now.Before(current.CreatedAt) {
			now = current.CreatedAt
		}
		current.Citation = snippet.Citation
		current.KeyLanguage = snippet.KeyLanguage
		current.Tags = domain.NormalizeTags(snippet.Tags)
		current.Context = snippet.Context
		current.CaseType = snippet.CaseType
		current.UpdatedAt = now

		if err := s.save(doc); err != nil {
			return err
		}
		snippet.CreatedAt = current.CreatedAt
		snippet.UpdatedAt = now
		return nil
	}
	return domain.ErrSnippetNotFound
}

// Delete removes the snippet with the given id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	kept := doc.Snippets[:0]
	for _, snippet := range doc.Snippets {
		if snippet.ID != id {
			kept = append(kept, snippet)
		}
	}
	if len(kept) == len(doc.Snippets) {
		return domain.ErrSnippetNotFound
	}
	doc.Snippets = kept
	return s.save(doc)
}

// List returns the snippets matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter domain.SearchFilter) ([]domain.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	results := []domain.Snippet{}
	for _, snippet := range doc.Snippets {
		if filter.Matches(snippet) {
			results = append(results, snippet)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID > results[j].ID
	})
	return results, nil
}

// ListChronological returns every snippet, oldest first.
func (s *Store) ListChronological(ctx context.Context) ([]domain.Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	results := append([]domain.Snippet{}, doc.Snippets...)
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// DistinctTags returns the sorted union of all tags.
func (s *Store) DistinctTags(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, snippet := range doc.Snippets {
		for _, tag := range snippet.Tags {
			set[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Close is a no-op; the file is not held open between operations.
func (s *Store) Close() error {
	return nil
}
