package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return filepath.Join(xdg, "amanrag", "config.yaml")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: retrieval defaults match the engine defaults
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 10, cfg.Retrieval.LexicalTopN)
	assert.Equal(t, WeightsConfig{SQL: 0.3, Lexical: 0.3, Semantic: 0.4}, cfg.Retrieval.Weights)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.EmbedTimeout)
	assert.Equal(t, 4, cfg.Retrieval.SemanticFetchFactor)
	assert.Equal(t, "inverse_distance", cfg.Retrieval.Similarity)

	assert.Equal(t, "bleve", cfg.Storage.LexicalBackend)
	assert.Equal(t, "hnsw", cfg.Storage.VectorBackend)
	assert.Equal(t, "sqlite", cfg.Storage.CorpusBackend)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Inference.Libraries)

	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_NoFiles(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Retrieval, cfg.Retrieval)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that both set top_k
	userPath := isolate(t)
	writeFile(t, userPath, `
retrieval:
  default_top_k: 7
  lexical_top_n: 20
embeddings:
  provider: static
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
retrieval:
  default_top_k: 3
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: the project wins where it speaks, the user config elsewhere
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 20, cfg.Retrieval.LexicalTopN)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_ExplicitZeroWeightHonoured(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
retrieval:
  weights:
    sql: 0.5
    lexical: 0.5
    semantic: 0
  embed_timeout: 5s
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, WeightsConfig{SQL: 0.5, Lexical: 0.5, Semantic: 0}, cfg.Retrieval.Weights)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.EmbedTimeout)
}

func TestLoad_YMLFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanrag.yml"), "storage:\n  corpus_backend: badger\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.CorpusBackend)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "retrieval:\n  default_top_k: 3\n")
	t.Setenv("AMANRAG_TOP_K", "9")
	t.Setenv("AMANRAG_EMBEDDER", "none")
	t.Setenv("AMANRAG_EMBED_TIMEOUT", "250ms")
	t.Setenv("AMANRAG_LEXICAL_TOP_N", "not-a-number")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.EmbedTimeout)
	assert.Equal(t, 10, cfg.Retrieval.LexicalTopN)
}

func TestLoad_InferenceOverride(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
inference:
  libraries:
    - value: polars
      keywords: [polars, pl.]
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	require.Len(t, cfg.Inference.Libraries, 1)
	assert.Equal(t, "polars", cfg.Inference.Libraries[0].Value)
	assert.Empty(t, cfg.Inference.Categories)
}

// =============================================================================
// Validation
// =============================================================================

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"weights do not sum to one", "retrieval:\n  weights: {sql: 0.3, lexical: 0.3, semantic: 0.3}\n"},
		{"negative weight", "retrieval:\n  weights: {sql: -0.2, lexical: 0.6, semantic: 0.6}\n"},
		{"zero top_k", "retrieval:\n  default_top_k: 0\n"},
		{"zero fetch factor", "retrieval:\n  semantic_fetch_factor: 0\n"},
		{"unknown similarity", "retrieval:\n  similarity: dot\n"},
		{"unknown lexical backend", "storage:\n  lexical_backend: fts5\n"},
		{"pgvector without dsn", "storage:\n  vector_backend: pgvector\n"},
		{"unknown provider", "embeddings:\n  provider: mlx\n"},
		{"bad log level", "server:\n  log_level: trace\n"},
		{"rule without keywords", "inference:\n  categories:\n    - value: anova\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ProjectConfigName), tt.content)

			_, err := Load(dir)

			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
		})
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "retrieval:\n  rrf_constant: 60\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rrf_constant")
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.DefaultTopK)
}

// =============================================================================
// Paths and writing
// =============================================================================

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data"), ExpandHome("~/data"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/var/lib/amanrag", ExpandHome("/var/lib/amanrag"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestLoad_ExpandsDataDir(t *testing.T) {
	isolate(t)
	t.Setenv("AMANRAG_DATA_DIR", "~/rag-data")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ExpandHome("~/rag-data"), cfg.Storage.DataDir)
	assert.NotContains(t, cfg.Storage.DataDir, "~")
}

func TestWriteYAML_LoadsBack(t *testing.T) {
	// Given: a modified config written as the user config
	path := isolate(t)
	cfg := NewConfig()
	cfg.Retrieval.DefaultTopK = 8
	cfg.Retrieval.EmbedTimeout = 12 * time.Second
	require.NoError(t, cfg.WriteYAML(path))

	// When: loading
	loaded, err := Load("")

	// Then: the written values come back
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Retrieval.DefaultTopK)
	assert.Equal(t, 12*time.Second, loaded.Retrieval.EmbedTimeout)
}
