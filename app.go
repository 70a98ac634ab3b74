package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"legal-snippets/application"
	"legal-snippets/config"
	"legal-snippets/domain"
	"legal-snippets/infrastructure/embedding"
	"legal-snippets/infrastructure/storage/jsonfile"
	"legal-snippets/infrastructure/storage/postgres"
	"legal-snippets/infrastructure/storage/sqlite"
	"legal-snippets/infrastructure/vectorstore"
)

// App owns every long-lived component built from the configuration.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    domain.SnippetStore
	embedder domain.EmbeddingClient
	index    domain.VectorIndex
	service  *application.SnippetService
	tools    *application.SnippetToolRepository

	closers []func() error
}

// newApp opens the configured store and, for semantic backends, the
// embedding model, cache and vector index.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	logger.Info("application ready",
		"backend", cfg.Backend,
		"semantic_search", app.service.SemanticEnabled(),
		"vector_index", app.index != nil,
	)
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if a.cfg.SemanticBackend() {
		a.embedder = a.newEmbedder()
		if err := a.checkEmbeddings(ctx); err != nil {
			return fmt.Errorf("embedding model check failed: %w", err)
		}
	}
	if a.cfg.QdrantAddr != "" {
		index, err := vectorstore.NewQdrantIndex(ctx, a.cfg.QdrantAddr, a.cfg.QdrantCollectionName, a.cfg.EmbeddingDimensions, a.logger)
		if err != nil {
			return err
		}
		a.index = index
		a.closers = append(a.closers, index.Close)
	}

	opts := []application.ServiceOption{
		application.WithDefaultThreshold(a.cfg.DefaultSimilarityThreshold),
		application.WithLogger(a.logger),
	}
	if a.embedder != nil {
		opts = append(opts, application.WithEmbedder(a.embedder))
	}
	if a.index != nil {
		opts = append(opts, application.WithVectorIndex(a.index))
	}
	a.service = application.NewSnippetService(a.store, opts...)
	a.tools = application.NewSnippetToolRepository(a.service, a.logger)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, a.cfg.DatabaseURL, postgres.Options{
			Dimensions:      a.cfg.EmbeddingDimensions,
			MaxOpenConns:    a.cfg.DBMaxOpenConns,
			MaxIdleConns:    a.cfg.DBMaxIdleConns,
			ConnMaxLifetime: a.cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		if err := prepareSchema(ctx, store); err != nil {
			return err
		}
		a.store = store
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.store = store
	default:
		store := jsonfile.New(a.cfg.JSONPath)
		a.closers = append(a.closers, store.Close)
		a.store = store
	}
	return nil
}

// errVectorExtensionMissing is returned when the database server cannot
// install pgvector.
var errVectorExtensionMissing = errors.New("the pgvector extension is not installed on the database server")

// schemaPreparer is the part of the Postgres store that sets up its schema.
type schemaPreparer interface {
	VectorExtensionAvailable(ctx context.Context) (bool, error)
	EnsureSchema(ctx context.Context) error
}

// prepareSchema checks that pgvector can be installed before creating the
// extension, table and indexes.
func prepareSchema(ctx context.Context, store schemaPreparer) error {
	available, err := store.VectorExtensionAvailable(ctx)
	if err != nil {
		return err
	}
	if !available {
		return errVectorExtensionMissing
	}
	return store.EnsureSchema(ctx)
}

// newEmbedder builds the configured embedding model, wrapped in the Redis
// cache when REDIS_ADDR is set.
func (a *App) newEmbedder() domain.EmbeddingClient {
	var client domain.EmbeddingClient
	switch a.cfg.EmbeddingProvider {
	case config.ProviderHash:
		client = embedding.NewHashEmbeddingClient(a.cfg.EmbeddingDimensions)
	default:
		client = embedding.NewOpenAIEmbeddingClient(embedding.OpenAIConfig{
			APIKey:     a.cfg.OpenAIAPIKey,
			BaseURL:    a.cfg.EmbeddingBaseURL,
			Model:      a.cfg.EmbeddingModel,
			Dimensions: a.cfg.EmbeddingDimensions,
		})
	}

	if a.cfg.RedisAddr == "" {
		return client
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, rdb.Close)
	model := a.cfg.EmbeddingProvider + ":" + a.cfg.EmbeddingModel
	return embedding.NewCachedEmbeddingClient(client, rdb, model, a.cfg.EmbeddingCacheTTL, a.logger)
}

// checkEmbeddings probes the embedding model when it supports probing.
func (a *App) checkEmbeddings(ctx context.Context) error {
	if a.embedder == nil {
		return fmt.Errorf("backend %s does not use embeddings", a.cfg.Backend)
	}
	prober, ok := a.embedder.(interface{ Init(context.Context) error })
	if !ok {
		_, err := a.embedder.GenerateEmbeddings(ctx, []string{"embedding model probe"})
		return err
	}
	return prober.Init(ctx)
}

// Close releases every component in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
