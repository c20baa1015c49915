package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Deps are the stores and providers an Engine queries. Only Metadata is
// required; a nil Lexical, Vector or Embedder makes its stage pass through,
// and a nil Corpus leaves ScoredResult.Chunk empty.
type Deps struct {
	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Embedder embed.Embedder
	Corpus   store.Corpus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine runs the retrieval pipeline. It keeps no per-query state and is safe
// for concurrent use. It does not own its dependencies and never closes them.
type Engine struct {
	metadata     store.MetadataStore
	lexicalIndex store.LexicalIndex
	vectorIndex  store.VectorIndex
	embedder     embed.Embedder
	corpus       store.Corpus
	logger       *slog.Logger

	config     Config
	batchLimit int
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithBatchConcurrency limits how many queries QueryBatch runs at once.
// Default: GOMAXPROCS.
func WithBatchConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchLimit = n
		}
	}
}

// NewEngine validates cfg and creates an engine over deps.
// Returns an ErrInvalidConfig error for an unusable configuration.
func NewEngine(cfg Config, deps Deps, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if cfg.Similarity == "" {
		cfg.Similarity = store.SimilarityInverseDistance
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		metadata:     deps.Metadata,
		lexicalIndex: deps.Lexical,
		vectorIndex:  deps.Vector,
		embedder:     deps.Embedder,
		corpus:       deps.Corpus,
		logger:       logger,
		config:       cfg,
		batchLimit:   runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// DefaultTopK is the result count surfaces use when the caller gives none.
func (e *Engine) DefaultTopK() int {
	return e.config.DefaultTopK
}

// Query runs the four stages for one query and returns at most topK results,
// best first. topK == 0 returns an empty list; a negative topK is ErrInvalidTopK.
// The only hard failures are ErrMetadataUnavailable and cancellation of ctx.
func (e *Engine) Query(ctx context.Context, text string, filters Filters, topK int) ([]*ScoredResult, error) {
	tr, err := e.run(ctx, Query{Text: text, Filters: filters, TopK: topK})
	if err != nil {
		return nil, err
	}
	return tr.results, nil
}

// QueryBatch runs independent queries concurrently. Results are in input order.
// The first failing query cancels the rest and its error is returned.
func (e *Engine) QueryBatch(ctx context.Context, queries []Query) ([][]*ScoredResult, error) {
	out := make([][]*ScoredResult, len(queries))
	if len(queries) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchLimit)
	for i, q := range queries {
		g.Go(func() error {
			results, err := e.Query(gctx, q.Text, q.Filters, q.TopK)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// trace records what each stage did for one query.
type trace struct {
	filter *filterResult
	stage2 []candidate
	stage3 []candidate

	// Reasons a stage passed its input through. Empty when the stage ran.
	lexicalSkip  string
	semanticSkip string

	results      []*ScoredResult
	filterTime   time.Duration
	lexicalTime  time.Duration
	semanticTime time.Duration
	fusionTime   time.Duration
}

// run is Query plus the per-stage trace that Explain reports. Cancellation
// is checked between stages and aborts with ctx.Err(); nothing partial is
// returned.
func (e *Engine) run(ctx context.Context, q Query) (*trace, error) {
	if q.TopK < 0 {
		return nil, invalidTopK(q.TopK)
	}
	tr := &trace{filter: &filterResult{ids: []string{}}, results: []*ScoredResult{}}
	if q.TopK == 0 {
		return tr, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 1. A metadata store error is the only stage failure that aborts.
	start := time.Now()
	fr, err := e.filter(ctx, q.Text, q.Filters)
	if err != nil {
		return nil, err
	}
	tr.filter = fr
	tr.filterTime = time.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2 narrows to LexicalTopN; Stage 3 never sees anything it dropped.
	start = time.Now()
	tr.stage2, tr.lexicalSkip, err = e.lexical(ctx, q.Text, fr.ids)
	if err != nil {
		return nil, err
	}
	tr.lexicalTime = time.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	tr.stage3, tr.semanticSkip, err = e.semantic(ctx, q.Text, tr.stage2, q.TopK)
	if err != nil {
		return nil, err
	}
	tr.semanticTime = time.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4
	start = time.Now()
	tr.results = fuse(tr.stage3, e.config.Weights, q.TopK)
	tr.fusionTime = time.Since(start)

	if err := e.attachChunks(ctx, tr.results); err != nil {
		return nil, err
	}

	e.logger.Debug("query complete",
		slog.Int("stage1", len(fr.ids)),
		slog.Int("stage2", len(tr.stage2)),
		slog.Int("stage3", len(tr.stage3)),
		slog.Int("results", len(tr.results)),
		slog.Bool("inferred_filters", fr.inferred),
		slog.Duration("elapsed", tr.filterTime+tr.lexicalTime+tr.semanticTime+tr.fusionTime))
	return tr, nil
}

// attachChunks fills ScoredResult.Chunk from the corpus. Missing chunks and
// corpus errors leave Chunk nil; only cancellation is returned.
func (e *Engine) attachChunks(ctx context.Context, results []*ScoredResult) error {
	if e.corpus == nil || len(results) == 0 {
		return nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}

	chunks, err := e.corpus.GetChunks(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Warn("chunk bodies unavailable",
			slog.String("stage", "corpus"),
			slog.String("error", err.Error()))
		return nil
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		if c != nil {
			byID[c.ID] = c
		}
	}
	for _, r := range results {
		r.Chunk = byID[r.ChunkID]
	}
	return nil
}
