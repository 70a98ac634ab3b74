package application

import (
	"fmt"
	"strings"
)

const (
	SchemaResourceURI         = "schema://legal_snippets"
	SemanticSchemaResourceURI = "schema://legal_snippets_postgres"
)

// SchemaResourceURI returns the URI the schema resource is published under.
func (s *SnippetService) SchemaResourceURI() string {
	if s.SemanticEnabled() {
		return SemanticSchemaResourceURI
	}
	return SchemaResourceURI
}

// SchemaDescription documents the record layout and the available tools for
// the assistant host.
func (s *SnippetService) SchemaDescription() string {
	var b strings.Builder
	b.WriteString("Legal Snippets Schema:\n\n")
	b.WriteString("- id: Unique identifier, never reused\n")
	b.WriteString("- citation: Case citation (e.g., \"Smith v. Jones, 123 F.3d 456 (2nd Cir. 2023)\")\n")
	b.WriteString("- key_language: Important legal text from the case\n")
	b.WriteString("- tags: List of categorization tags (e.g., [\"contract\", \"damages\", \"breach\"])\n")
	b.WriteString("- context: Additional notes and surrounding context\n")
	b.WriteString("- case_type: Type of case (civil, criminal, administrative, constitutional)\n")
	b.WriteString("- created_at: RFC 3339 timestamp of creation\n")
	b.WriteString("- updated_at: RFC 3339 timestamp of last update\n")

	if !s.SemanticEnabled() {
		b.WriteString("\nSearch Tools Available:\n")
		b.WriteString("- search_snippets: Keyword/tag search\n")
		return b.String()
	}

	b.WriteString("\nEach snippet also keeps three embeddings, regenerated whenever its text changes:\n")
	b.WriteString("- citation_embedding: Vector embedding of the citation\n")
	b.WriteString("- key_language_embedding: Vector embedding of the key language\n")
	b.WriteString("- combined_embedding: Vector embedding of citation, key language and context\n")
	b.WriteString("\nSemantic Search Capabilities:\n")
	b.WriteString("- Cosine similarity over the combined embedding\n")
	fmt.Fprintf(&b, "- Configurable similarity threshold (default %.2f)\n", s.threshold)
	b.WriteString("- Tag-filtered semantic search\n")
	b.WriteString("\nSearch Tools Available:\n")
	b.WriteString("- search_snippets: Keyword/tag search\n")
	b.WriteString("- semantic_search: Similarity search for a free-text description\n")
	b.WriteString("- find_similar_snippets: Snippets similar to a given one\n")
	return b.String()
}
