package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by the factories.
const (
	LexicalBackendMemory = "memory"
	LexicalBackendBleve  = "bleve"

	VectorBackendHNSW     = "hnsw"
	VectorBackendPgVector = "pgvector"

	CorpusBackendSQLite = "sqlite"
	CorpusBackendBadger = "badger"
)

// File names inside the data directory.
const (
	MetadataFileName = "metadata.db"
	VectorFileName   = "vectors.hnsw"
	CorpusDirName    = "corpus.badger"
)

// NewLexicalIndex creates an empty lexical index for backend.
//
// backend options:
//   - "bleve" (default): Bleve BM25 over a per-query subset index
//   - "memory": exact BM25 with cfg's k1 and b, no per-query index build
func NewLexicalIndex(backend string, cfg BM25Config) (LexicalIndex, error) {
	switch backend {
	case LexicalBackendBleve, "":
		return NewBleveIndex()
	case LexicalBackendMemory:
		return NewBM25Index(cfg), nil
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: bleve, memory)", backend)
	}
}

// VectorOptions selects and configures a vector backend.
type VectorOptions struct {
	Backend     string
	DataDir     string
	PostgresDSN string
	Config      VectorConfig
}

// OpenVectorIndex opens the vector index for reading.
// The HNSW backend loads <DataDir>/vectors.hnsw and returns ErrNotFound if nothing was saved.
func OpenVectorIndex(ctx context.Context, opts VectorOptions) (VectorIndex, error) {
	switch opts.Backend {
	case VectorBackendHNSW, "":
		path := filepath.Join(opts.DataDir, VectorFileName)
		if !fileExists(path) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return LoadHNSWIndex(path)
	case VectorBackendPgVector:
		return OpenPgVectorIndex(ctx, opts.PostgresDSN, opts.Config)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, pgvector)", opts.Backend)
	}
}

// CreateVectorIndex returns an empty, writable vector index for a load.
func CreateVectorIndex(ctx context.Context, opts VectorOptions) (VectorIndex, error) {
	switch opts.Backend {
	case VectorBackendHNSW, "":
		return NewHNSWIndex(opts.Config)
	case VectorBackendPgVector:
		return OpenPgVectorIndex(ctx, opts.PostgresDSN, opts.Config)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, pgvector)", opts.Backend)
	}
}

// OpenCorpus opens the chunk corpus. The sqlite backend shares meta.
func OpenCorpus(backend, dataDir string, meta *SQLiteStore) (CorpusWriter, error) {
	switch backend {
	case CorpusBackendSQLite, "":
		if meta == nil {
			return nil, fmt.Errorf("sqlite corpus requires the metadata store")
		}
		return &sharedSQLiteCorpus{meta}, nil
	case CorpusBackendBadger:
		return OpenBadgerCorpus(filepath.Join(dataDir, CorpusDirName))
	default:
		return nil, fmt.Errorf("unknown corpus backend: %s (valid options: sqlite, badger)", backend)
	}
}

// sharedSQLiteCorpus exposes the metadata database as the corpus. Closing it
// is a no-op; the metadata store owns the connection.
type sharedSQLiteCorpus struct {
	*SQLiteStore
}

func (sharedSQLiteCorpus) Close() error { return nil }

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
