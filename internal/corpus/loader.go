package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Options locates and selects the stores a load writes.
type Options struct {
	DataDir string

	CorpusBackend string // sqlite (default) or badger
	VectorBackend string // hnsw (default) or pgvector
	PostgresDSN   string

	// VectorMetric, HNSWM and HNSWEfSearch configure a freshly built index.
	VectorMetric string
	HNSWM        int
	HNSWEfSearch int

	// EmbeddingModel is recorded in the state table for diagnostics.
	EmbeddingModel string

	Logger *slog.Logger
}

// Result summarizes a completed load.
type Result struct {
	Chunks     int
	Vectors    int
	Dimensions int
	Generation int64
	Duration   time.Duration
}

// Loader replaces the stored corpus with a bundle.
type Loader struct {
	opts   Options
	logger *slog.Logger
}

// NewLoader creates a loader. A nil logger discards output.
func NewLoader(opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{opts: opts, logger: logger}
}

// Load reads the bundle at path and loads it.
func (l *Loader) Load(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFileNotFound, "cannot open bundle", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	bundle, err := ReadBundle(f)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeBundleInvalid, "invalid bundle", err).
			WithDetail("path", path).
			WithSuggestion("Each line must be a JSON object with a unique chunk_id and non-empty content")
	}
	return l.LoadBundle(ctx, bundle)
}

// LoadBundle writes a parsed bundle. Only one load per data directory runs at
// a time; a concurrent load fails with ERR_205_CORPUS_LOCKED rather than waiting.
func (l *Loader) LoadBundle(ctx context.Context, bundle *Bundle) (*Result, error) {
	start := time.Now()
	dataDir := l.opts.DataDir
	if dataDir == "" {
		return nil, amerrors.ConfigError("storage.data_dir is not set", nil)
	}

	lock := NewFileLock(dataDir)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "cannot create load lock", err).
			WithDetail("path", lock.Path())
	}
	if !ok {
		return nil, amerrors.New(amerrors.ErrCodeCorpusLocked, "another load is in progress", nil).
			WithDetail("path", lock.Path()).
			WithSuggestion("Wait for the other load to finish and try again")
	}
	defer func() { _ = lock.Unlock() }()

	meta, err := store.OpenSQLiteStore(filepath.Join(dataDir, store.MetadataFileName))
	if err != nil {
		return nil, amerrors.StorageError(amerrors.ErrCodeMetadataUnavailable, "cannot open metadata store", err)
	}
	defer func() { _ = meta.Close() }()

	corpus, err := store.OpenCorpus(l.opts.CorpusBackend, dataDir, meta)
	if err != nil {
		return nil, amerrors.StorageError(amerrors.ErrCodeFilePermission, "cannot open corpus", err)
	}
	defer func() { _ = corpus.Close() }()

	prev, err := ReadGeneration(dataDir)
	if err != nil {
		return nil, amerrors.StorageError(amerrors.ErrCodeCorruptIndex, "cannot read generation", err)
	}

	// Vectors and a badger corpus are written first. The metadata table, and
	// with it the sqlite corpus, is then swapped in one transaction so a
	// concurrent reader never sees it empty.
	chunks := bundle.Chunks()
	ids, vectors := bundle.Vectors()
	g, gctx := errgroup.WithContext(ctx)
	if l.opts.CorpusBackend == store.CorpusBackendBadger {
		g.Go(func() error {
			if err := corpus.Reset(gctx); err != nil {
				return fmt.Errorf("reset corpus: %w", err)
			}
			if err := corpus.PutChunks(gctx, chunks); err != nil {
				return fmt.Errorf("write corpus: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return l.writeVectors(gctx, bundle.Dimensions, ids, vectors)
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, amerrors.StorageError(amerrors.ErrCodeFilePermission, "load failed", err)
	}

	gen := prev + 1
	state := map[string]string{
		store.StateKeyGeneration:         strconv.FormatInt(gen, 10),
		store.StateKeyEmbeddingDimension: strconv.Itoa(bundle.Dimensions),
		store.StateKeyEmbeddingModel:     l.opts.EmbeddingModel,
	}
	if err := meta.ReplaceChunks(ctx, chunks, state); err != nil {
		return nil, amerrors.StorageError(amerrors.ErrCodeMetadataUnavailable, "cannot write metadata", err)
	}
	if err := writeGeneration(dataDir, gen); err != nil {
		return nil, amerrors.StorageError(amerrors.ErrCodeFilePermission, "cannot publish generation", err)
	}

	res := &Result{
		Chunks:     len(chunks),
		Vectors:    len(ids),
		Dimensions: bundle.Dimensions,
		Generation: gen,
		Duration:   time.Since(start),
	}
	l.logger.Info("corpus loaded",
		slog.String("data_dir", dataDir),
		slog.Int("chunks", res.Chunks),
		slog.Int("vectors", res.Vectors),
		slog.Int("dimensions", res.Dimensions),
		slog.Int64("generation", gen),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// writeVectors rebuilds the vector index. A bundle without embeddings removes
// the saved HNSW graph so the runtime opens without a vector index.
func (l *Loader) writeVectors(ctx context.Context, dims int, ids []string, vectors [][]float32) error {
	backend := l.opts.VectorBackend
	if backend == "" {
		backend = store.VectorBackendHNSW
	}
	hnswPath := filepath.Join(l.opts.DataDir, store.VectorFileName)

	if dims == 0 {
		if backend == store.VectorBackendHNSW {
			return removeHNSW(hnswPath)
		}
		l.logger.Warn("bundle has no embeddings; existing pgvector rows are kept",
			slog.String("backend", backend))
		return nil
	}

	cfg := store.DefaultVectorConfig(dims)
	if l.opts.VectorMetric != "" {
		cfg.Metric = l.opts.VectorMetric
	}
	if l.opts.HNSWM > 0 {
		cfg.M = l.opts.HNSWM
	}
	if l.opts.HNSWEfSearch > 0 {
		cfg.EfSearch = l.opts.HNSWEfSearch
	}

	idx, err := store.CreateVectorIndex(ctx, store.VectorOptions{
		Backend:     backend,
		DataDir:     l.opts.DataDir,
		PostgresDSN: l.opts.PostgresDSN,
		Config:      cfg,
	})
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	switch v := idx.(type) {
	case *store.HNSWIndex:
		if err := v.Save(hnswPath); err != nil {
			return fmt.Errorf("save vectors: %w", err)
		}
	case *store.PgVectorIndex:
		if err := v.Prune(ctx, ids); err != nil {
			return err
		}
	}
	return nil
}

func removeHNSW(path string) error {
	for _, p := range []string{path, path + ".meta"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale vectors: %w", err)
		}
	}
	return nil
}
