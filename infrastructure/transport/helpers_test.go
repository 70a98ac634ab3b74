package transport

import (
	"path/filepath"
	"testing"

	"legal-snippets/application"
	"legal-snippets/infrastructure/logging"
	"legal-snippets/infrastructure/storage/jsonfile"
)

func newRepository(t *testing.T) *application.SnippetToolRepository {
	t.Helper()
	store := jsonfile.New(filepath.Join(t.TempDir(), "legal_snippets.json"))
	service := application.NewSnippetService(store, application.WithLogger(logging.Noop()))
	return application.NewSnippetToolRepository(service, logging.Noop())
}
