// Package runtime assembles a query-ready search.Engine from configuration:
// it opens the stores, rebuilds the lexical index from the corpus and creates
// the query embedder. The CLI, the daemon and the MCP server all query through
// a Runtime.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// rebuildBatchSize is the number of chunks handed to the lexical index at once.
const rebuildBatchSize = 1000

// ErrNotLoaded is returned by Open when the data directory holds no corpus.
var ErrNotLoaded = amerrors.New(amerrors.ErrCodeIndexNotLoaded, "no corpus loaded", nil)

// Runtime owns the stores behind one Engine.
type Runtime struct {
	Engine *search.Engine

	Metadata *store.SQLiteStore
	Corpus   store.CorpusWriter
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex // nil when the corpus has no embeddings
	Embedder embed.Embedder    // nil when disabled or useless

	// Generation is the corpus generation this runtime was opened at.
	Generation int64
	OpenedAt   time.Time

	cfg    *config.Config
	logger *slog.Logger
}

type options struct {
	logger   *slog.Logger
	embedder embed.Embedder
	apiKey   string
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger handed to the engine and stores.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder uses e instead of building one from cfg.Embeddings.
// The runtime takes ownership and closes it.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithOpenAIKey overrides the OPENAI_API_KEY environment variable.
func WithOpenAIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// Open builds a Runtime over cfg.Storage.DataDir. A missing vector index or an
// unreachable embedder is logged and leaves the semantic stage to pass through;
// a missing metadata store is ErrNotLoaded.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (rt *Runtime, err error) {
	o := &options{apiKey: os.Getenv("OPENAI_API_KEY")}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.Storage.DataDir
	metaPath := filepath.Join(dataDir, store.MetadataFileName)
	if _, statErr := os.Stat(metaPath); statErr != nil {
		return nil, amerrors.New(amerrors.ErrCodeIndexNotLoaded, "no corpus loaded", statErr).
			WithDetail("data_dir", dataDir).
			WithSuggestion("Run: amanrag load <bundle.jsonl>")
	}

	rt = &Runtime{OpenedAt: time.Now(), cfg: cfg, logger: logger, Embedder: o.embedder}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if rt.Generation, err = corpus.ReadGeneration(dataDir); err != nil {
		return rt, amerrors.StorageError(amerrors.ErrCodeCorruptIndex, "cannot read generation", err)
	}

	if rt.Metadata, err = store.OpenSQLiteStore(metaPath); err != nil {
		return rt, amerrors.StorageError(amerrors.ErrCodeMetadataUnavailable, "cannot open metadata store", err)
	}
	// Every store below is built from, or joined against, this one snapshot.
	// A load committing meanwhile is picked up by the next Open.
	if err = rt.Metadata.PinSnapshot(ctx); err != nil {
		return rt, amerrors.StorageError(amerrors.ErrCodeMetadataUnavailable, "cannot read metadata store", err)
	}
	if v, stateErr := rt.Metadata.GetState(ctx, store.StateKeyGeneration); stateErr == nil {
		if g, convErr := strconv.ParseInt(v, 10, 64); convErr == nil {
			rt.Generation = g
		}
	}
	if rt.Corpus, err = store.OpenCorpus(cfg.Storage.CorpusBackend, dataDir, rt.Metadata); err != nil {
		return rt, amerrors.StorageError(amerrors.ErrCodeFilePermission, "cannot open corpus", err)
	}

	if err = rt.buildLexical(ctx); err != nil {
		return rt, err
	}
	rt.openVector(ctx)
	if err = rt.buildEmbedder(o.apiKey); err != nil {
		return rt, err
	}

	engine, err := search.NewEngine(SearchConfig(cfg), search.Deps{
		Metadata: rt.Metadata,
		Lexical:  rt.Lexical,
		Vector:   rt.Vector,
		Embedder: rt.Embedder,
		Corpus:   rt.Corpus,
		Logger:   logger,
	}, search.WithBatchConcurrency(cfg.Retrieval.BatchConcurrency))
	if err != nil {
		return rt, err
	}
	rt.Engine = engine

	logger.Info("runtime opened",
		slog.String("data_dir", dataDir),
		slog.Int64("generation", rt.Generation),
		slog.Int("lexical_docs", rt.Lexical.Count()),
		slog.Bool("vector_index", rt.Vector != nil),
		slog.Bool("embedder", rt.Embedder != nil),
		slog.Duration("duration", time.Since(rt.OpenedAt)))
	return rt, nil
}

// buildLexical indexes every corpus chunk. The lexical index is in-memory (or
// a mem-only Bleve index) and is rebuilt on every open.
func (rt *Runtime) buildLexical(ctx context.Context) error {
	idx, err := store.NewLexicalIndex(rt.cfg.Storage.LexicalBackend, store.DefaultBM25Config())
	if err != nil {
		return amerrors.ConfigError("invalid lexical backend", err)
	}
	rt.Lexical = idx

	batch := make([]*store.Chunk, 0, rebuildBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Index(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	err = rt.Corpus.ForEach(ctx, func(c *store.Chunk) error {
		batch = append(batch, c)
		if len(batch) == rebuildBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return amerrors.StorageError(amerrors.ErrCodeCorruptIndex, "cannot build lexical index", err)
	}
	return nil
}

// openVector opens the vector index recorded by the last load, if any.
func (rt *Runtime) openVector(ctx context.Context) {
	dims := rt.storedDimensions(ctx)
	if dims == 0 {
		rt.logger.Info("corpus has no embeddings; semantic stage disabled")
		return
	}

	vc := store.DefaultVectorConfig(dims)
	if m := rt.cfg.Storage.VectorMetric; m != "" {
		vc.Metric = m
	}
	vc.M = rt.cfg.Storage.HNSWM
	vc.EfSearch = rt.cfg.Storage.HNSWEfSearch

	idx, err := store.OpenVectorIndex(ctx, store.VectorOptions{
		Backend:     rt.cfg.Storage.VectorBackend,
		DataDir:     rt.cfg.Storage.DataDir,
		PostgresDSN: rt.cfg.Storage.PostgresDSN,
		Config:      vc,
	})
	if err != nil {
		rt.logger.Warn("vector index unavailable; semantic stage disabled",
			slog.String("backend", rt.cfg.Storage.VectorBackend),
			slog.String("error", err.Error()))
		return
	}
	rt.Vector = idx
}

func (rt *Runtime) storedDimensions(ctx context.Context) int {
	v, err := rt.Metadata.GetState(ctx, store.StateKeyEmbeddingDimension)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			rt.logger.Warn("cannot read embedding dimension", slog.String("error", err.Error()))
		}
		return 0
	}
	dims, err := strconv.Atoi(v)
	if err != nil || dims < 0 {
		rt.logger.Warn("invalid embedding dimension in state", slog.String("value", v))
		return 0
	}
	return dims
}

// buildEmbedder creates the query embedder. Without a vector index there is
// nothing to compare against, so none is built.
func (rt *Runtime) buildEmbedder(apiKey string) error {
	if rt.Embedder != nil {
		return nil
	}
	if rt.Vector == nil {
		return nil
	}

	ec := rt.cfg.Embeddings
	dims := ec.Dimensions
	if dims == 0 {
		dims = rt.Vector.Dimensions()
	}
	e, err := embed.NewEmbedder(embed.Options{
		Provider:        embed.ProviderType(ec.Provider),
		Model:           ec.Model,
		Dimensions:      dims,
		OllamaHost:      ec.OllamaHost,
		OpenAIBaseURL:   ec.OpenAIBaseURL,
		OpenAIAPIKey:    apiKey,
		CacheSize:       ec.CacheSize,
		BreakerFailures: ec.BreakerFailures,
		BreakerReset:    ec.BreakerReset,
	})
	if err != nil {
		return amerrors.ConfigError("invalid embeddings configuration", err)
	}
	rt.Embedder = e
	return nil
}

// SearchConfig converts the retrieval and inference sections of cfg.
func SearchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig()
	r := cfg.Retrieval
	sc.Weights = search.Weights{
		SQL:      r.Weights.SQL,
		Lexical:  r.Weights.Lexical,
		Semantic: r.Weights.Semantic,
	}
	sc.DefaultTopK = r.DefaultTopK
	sc.LexicalTopN = r.LexicalTopN
	sc.EmbedTimeout = r.EmbedTimeout
	sc.SemanticFetchFactor = r.SemanticFetchFactor
	if r.Similarity != "" {
		sc.Similarity = store.Similarity(r.Similarity)
	}
	if rules := toRules(cfg.Inference.Libraries); len(rules) > 0 {
		sc.Inference.Libraries = rules
	}
	if rules := toRules(cfg.Inference.Categories); len(rules) > 0 {
		sc.Inference.Categories = rules
	}
	return sc
}

func toRules(in []config.InferenceRule) []search.Rule {
	out := make([]search.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, search.Rule{Value: r.Value, Keywords: r.Keywords})
	}
	return out
}

// Config returns the configuration the runtime was opened with.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Close releases every store. It is safe on a partially opened runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Embedder != nil {
		errs = append(errs, rt.Embedder.Close())
	}
	if rt.Vector != nil {
		errs = append(errs, rt.Vector.Close())
	}
	if rt.Lexical != nil {
		errs = append(errs, rt.Lexical.Close())
	}
	if rt.Corpus != nil {
		errs = append(errs, rt.Corpus.Close())
	}
	if rt.Metadata != nil {
		errs = append(errs, rt.Metadata.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}
