package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, BackendJSON, cfg.Backend)
	assert.Equal(t, "legal_snippets.json", cfg.JSONPath)
	assert.Equal(t, DefaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.EmbeddingModel)
	assert.Equal(t, 384, cfg.EmbeddingDimensions)
	assert.InDelta(t, 0.7, cfg.DefaultSimilarityThreshold, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.EmbeddingCacheTTL)
	assert.False(t, cfg.SemanticBackend())
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgresql://u:p@db:5432/x")
	t.Setenv("DEFAULT_SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("DB_CONN_MAX_LIFETIME", "30m")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgresql://u:p@db:5432/x", cfg.DatabaseURL)
	assert.InDelta(t, 0.55, cfg.DefaultSimilarityThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
	assert.True(t, cfg.SemanticBackend())
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND", "postgres")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("backend", "", "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--backend=sqlite", "--log-level=debug"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend:                    BackendJSON,
			EmbeddingProvider:          ProviderHash,
			EmbeddingDimensions:        384,
			DefaultSimilarityThreshold: 0.7,
			ReembedWorkers:             1,
			ReembedBatchSize:           1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "mongo" }, true},
		{"unknown provider", func(c *Config) { c.EmbeddingProvider = "bert" }, true},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }, true},
		{"threshold above one", func(c *Config) { c.DefaultSimilarityThreshold = 1.5 }, true},
		{"no workers", func(c *Config) { c.ReembedWorkers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
