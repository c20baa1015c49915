package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const testDims = 32

// loadScenario loads the three-chunk scenario corpus with static embeddings
// and returns a config pointing at it.
func loadScenario(t *testing.T, withEmbeddings bool) *config.Config {
	t.Helper()
	ctx := context.Background()

	chunks := []store.Chunk{
		{ID: "c1", Content: "scipy ttest_ind compares two independent samples", Library: "scipy", Category: "hypothesis_test", FunctionName: "ttest_ind"},
		{ID: "c2", Content: "numpy mean computes the arithmetic mean", Library: "numpy", Category: "descriptive", FunctionName: "mean"},
		{ID: "c3", Content: "scipy mannwhitneyu rank test for two samples", Library: "scipy", Category: "hypothesis_test", FunctionName: "mannwhitneyu"},
	}

	emb := embed.NewStaticEmbedder(testDims)
	var lines []string
	for _, c := range chunks {
		rec := corpus.Record{Chunk: c}
		if withEmbeddings {
			v, err := emb.Embed(ctx, c.Content)
			require.NoError(t, err)
			rec.Embedding = v
		}
		b, err := json.Marshal(rec)
		require.NoError(t, err)
		lines = append(lines, string(b))
	}
	bundle := filepath.Join(t.TempDir(), "bundle.jsonl")
	require.NoError(t, os.WriteFile(bundle, []byte(strings.Join(lines, "\n")), 0644))

	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Embeddings.Provider = "static"

	_, err := corpus.NewLoader(corpus.Options{DataDir: cfg.Storage.DataDir}).Load(ctx, bundle)
	require.NoError(t, err)
	return cfg
}

func TestOpen_ScenarioQuery(t *testing.T) {
	// Given: a loaded corpus with embeddings and a static query embedder
	cfg := loadScenario(t, true)
	rt, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	// When: querying with inferred library and category
	results, err := rt.Engine.Query(context.Background(), "scipy t-test", search.Filters{}, 5)

	// Then: only the scipy hypothesis tests come back, fully scored
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
		require.NotNil(t, r.Chunk)
		assert.NotNil(t, r.SemanticScore)
	}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
	assert.Equal(t, int64(1), rt.Generation)
}

func TestOpen_NoEmbeddings(t *testing.T) {
	// Given: a corpus loaded without embeddings
	cfg := loadScenario(t, false)

	// When: opening it
	rt, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	// Then: no vector index or embedder, and queries still rank lexically
	assert.Nil(t, rt.Vector)
	assert.Nil(t, rt.Embedder)

	results, err := rt.Engine.Query(context.Background(), "numpy mean", search.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Nil(t, results[0].SemanticScore)
}

func TestOpen_KeepsItsGenerationAcrossReload(t *testing.T) {
	// Given: a runtime serving generation 1
	ctx := context.Background()
	cfg := loadScenario(t, false)
	rt, err := Open(ctx, cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	// When: another process loads a different corpus into the same data dir
	rec := corpus.Record{Chunk: store.Chunk{ID: "d1", Content: "scipy ttest_rel paired samples", Library: "scipy", Category: "hypothesis_test"}}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	bundle := filepath.Join(t.TempDir(), "next.jsonl")
	require.NoError(t, os.WriteFile(bundle, b, 0644))
	res, err := corpus.NewLoader(corpus.Options{DataDir: cfg.Storage.DataDir}).Load(ctx, bundle)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Generation)

	// Then: the open runtime keeps answering from generation 1 with full chunks
	results, err := rt.Engine.Query(ctx, "scipy t-test", search.Filters{}, 5)
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
		require.NotNil(t, r.Chunk)
	}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
	assert.Equal(t, int64(1), rt.Generation)

	// And: a runtime opened afterwards serves generation 2
	next, err := Open(ctx, cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = next.Close() }()
	assert.Equal(t, int64(2), next.Generation)
	results, err = next.Engine.Query(ctx, "scipy t-test", search.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ChunkID)
}

func TestOpen_LexicalBackends(t *testing.T) {
	tests := []struct {
		backend string
		want    store.LexicalIndex
	}{
		{"", &store.BleveIndex{}},
		{store.LexicalBackendMemory, &store.BM25Index{}},
	}
	for _, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			cfg := loadScenario(t, false)
			cfg.Storage.LexicalBackend = tt.backend

			rt, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))
			require.NoError(t, err)
			defer func() { _ = rt.Close() }()

			assert.IsType(t, tt.want, rt.Lexical)
			assert.Equal(t, 3, rt.Lexical.Count())

			results, err := rt.Engine.Query(context.Background(), "numpy mean", search.Filters{}, 5)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "c2", results[0].ChunkID)
		})
	}
}

func TestOpen_NotLoaded(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	rt, err := Open(context.Background(), cfg)

	assert.Nil(t, rt)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestOpen_InvalidWeights(t *testing.T) {
	cfg := loadScenario(t, false)
	cfg.Retrieval.Weights.SQL = 0.9

	_, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))

	assert.ErrorIs(t, err, search.ErrInvalidConfig)
}

func TestStatus(t *testing.T) {
	cfg := loadScenario(t, true)
	rt, err := Open(context.Background(), cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	st, err := rt.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 3, st.LexicalDocs)
	assert.Equal(t, 3, st.Vectors)
	assert.Equal(t, testDims, st.Dimensions)
	assert.Equal(t, "hnsw", st.VectorBackend)
	assert.Equal(t, "static", st.EmbeddingModel)
	assert.True(t, st.EmbedderReady)
}

func TestSearchConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Retrieval.DefaultTopK = 8
	cfg.Inference.Libraries = []config.InferenceRule{{Value: "torch", Keywords: []string{"torch"}}}

	sc := SearchConfig(cfg)

	assert.Equal(t, 8, sc.DefaultTopK)
	assert.Equal(t, []search.Rule{{Value: "torch", Keywords: []string{"torch"}}}, sc.Inference.Libraries)
	assert.Equal(t, search.DefaultInferenceTable().Categories, sc.Inference.Categories,
		"an empty category list keeps the built-in table")
	require.NoError(t, sc.Validate())
}

func TestClose_Partial(t *testing.T) {
	rt := &Runtime{}
	assert.NoError(t, rt.Close())
}

func TestErrNotLoadedCode(t *testing.T) {
	assert.Equal(t, amerrors.ErrCodeIndexNotLoaded, amerrors.GetCode(ErrNotLoaded))
}
