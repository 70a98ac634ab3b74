package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-snippets/application"
	"legal-snippets/config"
	"legal-snippets/infrastructure/logging"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Backend:                    backend,
		JSONPath:                   filepath.Join(dir, "legal_snippets.json"),
		SQLitePath:                 filepath.Join(dir, "legal_snippets.db"),
		EmbeddingProvider:          config.ProviderHash,
		EmbeddingDimensions:        32,
		DefaultSimilarityThreshold: 0.7,
		ReembedWorkers:             2,
		ReembedBatchSize:           8,
	}
}

func TestNewAppJSON(t *testing.T) {
	app, err := newApp(context.Background(), testConfig(t, config.BackendJSON), logging.Noop())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.embedder)
	assert.False(t, app.service.SemanticEnabled())
	assert.Error(t, app.checkEmbeddings(context.Background()))
}

func TestNewAppSQLite(t *testing.T) {
	ctx := context.Background()
	app, err := newApp(ctx, testConfig(t, config.BackendSQLite), logging.Noop())
	require.NoError(t, err)
	defer app.Close()

	require.True(t, app.service.SemanticEnabled())
	require.NoError(t, app.checkEmbeddings(ctx))

	_, err = app.service.Create(ctx, application.CreateSnippetInput{
		Citation:    "Smith v. Jones",
		KeyLanguage: "duty of care",
		Tags:        []string{"tort"},
	})
	require.NoError(t, err)

	n, err := application.NewReindexService(app.store, app.index, app.embedder, 2, 8, logging.Noop()).Reembed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppCloseIsIdempotent(t *testing.T) {
	app, err := newApp(context.Background(), testConfig(t, config.BackendSQLite), logging.Noop())
	require.NoError(t, err)
	require.NoError(t, app.Close())
	assert.NoError(t, app.Close())
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"export", "--backend", "json", "--json-path", filepath.Join(dir, "snippets.json"), "--format", "text"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "\n", out.String())
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCommand()
	root.SetArgs([]string{"serve", "--backend", "json", "--transport", "carrier-pigeon"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

type fakeSchema struct {
	available bool
	checkErr  error
	ensured   int
}

func (f *fakeSchema) VectorExtensionAvailable(context.Context) (bool, error) {
	return f.available, f.checkErr
}

func (f *fakeSchema) EnsureSchema(context.Context) error {
	f.ensured++
	return nil
}

func TestPrepareSchema(t *testing.T) {
	tests := []struct {
		name    string
		schema  *fakeSchema
		wantErr error
		ensured int
	}{
		{"extension available", &fakeSchema{available: true}, nil, 1},
		{"extension missing", &fakeSchema{}, errVectorExtensionMissing, 0},
		{"check fails", &fakeSchema{checkErr: errors.New("connection reset")}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := prepareSchema(context.Background(), tt.schema)
			switch {
			case tt.schema.checkErr != nil:
				assert.ErrorIs(t, err, tt.schema.checkErr)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.ensured, tt.schema.ensured)
		})
	}
}

// embeddingEndpoint serves /v1/embeddings with zero vectors of width dims, or
// fails every request when dims is 0.
func embeddingEndpoint(t *testing.T, dims int, calls *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if dims == 0 {
			http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = 1
			data[i] = map[string]any{"object": "embedding", "embedding": vec, "index": i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestNewAppProbesEmbeddingModel(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	cfg := testConfig(t, config.BackendSQLite)
	cfg.EmbeddingProvider = config.ProviderOpenAI
	cfg.EmbeddingBaseURL = embeddingEndpoint(t, cfg.EmbeddingDimensions, &calls)

	app, err := newApp(ctx, cfg, logging.Noop())
	require.NoError(t, err)
	defer app.Close()
	assert.Equal(t, int32(1), calls.Load())

	_, err = app.service.Create(ctx, application.CreateSnippetInput{
		Citation:    "Smith v. Jones",
		KeyLanguage: "duty of care",
		Tags:        []string{"tort"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewAppFailsWhenEmbeddingModelIsDown(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, config.BackendSQLite)
	cfg.EmbeddingProvider = config.ProviderOpenAI
	cfg.EmbeddingBaseURL = embeddingEndpoint(t, 0, &calls)

	_, err := newApp(context.Background(), cfg, logging.Noop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding model check failed")
	assert.NotZero(t, calls.Load())
}
