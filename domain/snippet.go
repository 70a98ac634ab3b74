package domain

import (
	"fmt"
	"strings"
	"time"
)

// Conventional case types. They are not validated; any string is accepted.
const (
	CaseTypeCivil          = "civil"
	CaseTypeCriminal       = "criminal"
	CaseTypeAdministrative = "administrative"
	CaseTypeConstitutional = "constitutional"
)

// DefaultCaseType is applied when a snippet is created without a case type.
const DefaultCaseType = CaseTypeCivil

// Snippet is one stored legal-citation record.
type Snippet struct {
	ID          int64     `json:"id"`           // Assigned by the store, never reused
	Citation    string    `json:"citation"`     // Case reference, e.g. "Smith v. Jones, 123 F.3d 456"
	KeyLanguage string    `json:"key_language"` // Quoted material from the case
	Tags        []string  `json:"tags"`         // Categorical labels used for filtering
	Context     string    `json:"context"`      // Free-form notes
	CaseType    string    `json:"case_type"`    // civil, criminal, administrative, constitutional
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Embeddings is derived data. Only the relational backends persist it.
	Embeddings *SnippetEmbeddings `json:"-"`
}

// SnippetEmbeddings holds the three vectors derived from a snippet's text.
type SnippetEmbeddings struct {
	Citation    Embedding
	KeyLanguage Embedding
	Combined    Embedding
}

// ScoredSnippet is a snippet ranked by similarity search.
type ScoredSnippet struct {
	Snippet
	SimilarityScore float64 `json:"similarity_score"`
}

// SnippetPatch is a partial update. A nil field is left unchanged; a non-nil
// field replaces the stored value, so an empty Context or Tags clears it.
type SnippetPatch struct {
	Citation    *string
	KeyLanguage *string
	Tags        *[]string
	Context     *string
	CaseType    *string
}

// ApplyPatch returns a copy of s with the patch applied. textChanged reports
// whether a field that feeds the embeddings was modified.
func ApplyPatch(s Snippet, p SnippetPatch) (updated Snippet, textChanged bool) {
	updated = s
	updated.Tags = append([]string(nil), s.Tags...)

	if p.Citation != nil && *p.Citation != s.Citation {
		updated.Citation = *p.Citation
		textChanged = true
	}
	if p.KeyLanguage != nil && *p.KeyLanguage != s.KeyLanguage {
		updated.KeyLanguage = *p.KeyLanguage
		textChanged = true
	}
	if p.Context != nil && *p.Context != s.Context {
		updated.Context = *p.Context
		textChanged = true
	}
	if p.Tags != nil {
		updated.Tags = NormalizeTags(*p.Tags)
	}
	if p.CaseType != nil {
		updated.CaseType = *p.CaseType
	}
	return updated, textChanged
}

// NormalizeTags trims every tag, drops empty ones and removes exact
// duplicates while keeping the first occurrence. Matching stays
// case-sensitive. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// HasAnyTag reports whether the snippet carries at least one of tags.
func (s Snippet) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range s.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// MatchesText reports whether query occurs, ignoring case, in the citation,
// key language or context.
func (s Snippet) MatchesText(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(s.Citation), q) ||
		strings.Contains(strings.ToLower(s.KeyLanguage), q) ||
		strings.Contains(strings.ToLower(s.Context), q)
}

// CombinedText builds the text behind the combined embedding.
func CombinedText(citation, keyLanguage, context string) string {
	text := fmt.Sprintf("Citation: %s. Key Language: %s", citation, keyLanguage)
	if context != "" {
		text += fmt.Sprintf(" Context: %s", context)
	}
	return text
}

// EmbeddingTexts returns the texts embedded for s, in SnippetEmbeddings order.
func (s Snippet) EmbeddingTexts() []string {
	return []string{s.Citation, s.KeyLanguage, CombinedText(s.Citation, s.KeyLanguage, s.Context)}
}
