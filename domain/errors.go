package domain

import "errors"

var (
	// ErrSnippetNotFound is returned for operations on an id that does not exist.
	ErrSnippetNotFound = errors.New("snippet not found")

	// ErrInvalidSnippet is returned when input fails validation.
	ErrInvalidSnippet = errors.New("invalid snippet")

	// ErrStoreUnavailable wraps connectivity and I/O failures of a store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEmbeddingUnavailable wraps failures of the embedding model.
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")

	// ErrSemanticSearchUnavailable is returned when the backend keeps no vectors.
	ErrSemanticSearchUnavailable = errors.New("semantic search is not available for this backend")

	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")
)
