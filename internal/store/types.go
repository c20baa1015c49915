// Package store provides the read side of the retrieval stores: the metadata table (SQLite),
// the lexical index (in-memory BM25 or Bleve), the vector index (HNSW or pgvector) and the
// chunk corpus (SQLite or Badger).
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested chunk or state key doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Metadata keys mirrored from the structured chunk attributes.
const (
	MetaLibrary      = "library"
	MetaCategory     = "category"
	MetaFunctionName = "function_name"
	MetaTitle        = "title"
)

// State keys for the metadata store.
const (
	// StateKeyGeneration is bumped by every successful corpus load.
	StateKeyGeneration = "generation"
	// StateKeyEmbeddingDimension records the dimension of loaded vectors.
	StateKeyEmbeddingDimension = "embedding_dimension"
	// StateKeyEmbeddingModel records the model that produced the loaded vectors.
	StateKeyEmbeddingModel = "embedding_model"
)

// Chunk is an immutable unit of retrievable text produced by external ingestion.
type Chunk struct {
	ID           string            `json:"chunk_id"`
	Content      string            `json:"content"`
	Library      string            `json:"library,omitempty"`
	Category     string            `json:"category,omitempty"`
	FunctionName string            `json:"function_name,omitempty"`
	Title        string            `json:"title,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Attributes returns the chunk metadata with the structured attributes folded in.
func (c *Chunk) Attributes() map[string]string {
	attrs := make(map[string]string, len(c.Metadata)+4)
	for k, v := range c.Metadata {
		attrs[k] = v
	}
	if c.Library != "" {
		attrs[MetaLibrary] = c.Library
	}
	if c.Category != "" {
		attrs[MetaCategory] = c.Category
	}
	if c.FunctionName != "" {
		attrs[MetaFunctionName] = c.FunctionName
	}
	if c.Title != "" {
		attrs[MetaTitle] = c.Title
	}
	return attrs
}

// Predicates is a conjunction of metadata conditions.
// Empty fields are not constrained; all-empty predicates select the whole corpus.
type Predicates struct {
	// Library matches the library attribute exactly (case-insensitive).
	Library string
	// Category matches the category attribute exactly (case-insensitive).
	Category string
	// FunctionNameContains matches when the function name contains it (case-insensitive).
	FunctionNameContains string
}

// IsEmpty reports whether no predicate is set.
func (p Predicates) IsEmpty() bool {
	return p.Library == "" && p.Category == "" && p.FunctionNameContains == ""
}

// MetadataStore is the relational chunk attribute table.
type MetadataStore interface {
	// SelectChunkIDs returns the IDs satisfying all predicates, in corpus order.
	SelectChunkIDs(ctx context.Context, p Predicates) ([]string, error)

	// SaveChunks upserts chunk attributes. Order of first insertion defines corpus order.
	SaveChunks(ctx context.Context, chunks []*Chunk) error

	// Count returns the number of chunks in the table.
	Count(ctx context.Context) (int, error)

	// GetState and SetState are a small key-value side table.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// Corpus gives read access to chunk bodies for result presentation.
type Corpus interface {
	// GetChunk returns ErrNotFound when the chunk is absent.
	GetChunk(ctx context.Context, id string) (*Chunk, error)

	// GetChunks returns the chunks that exist, in the order of ids. Missing IDs are skipped.
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// ForEach visits every chunk in corpus order. Returning an error stops the walk.
	ForEach(ctx context.Context, fn func(*Chunk) error) error

	Close() error
}

// CorpusWriter is implemented by corpus backends the loader can populate.
type CorpusWriter interface {
	Corpus
	PutChunks(ctx context.Context, chunks []*Chunk) error
	// Reset removes every chunk.
	Reset(ctx context.Context) error
}

// LexicalResult is one scored chunk from the lexical index.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex scores chunks against query tokens.
// Term statistics are computed over restrictTo only, never over the full corpus.
type LexicalIndex interface {
	// Index adds or replaces chunk text.
	Index(ctx context.Context, chunks []*Chunk) error

	// Score returns a result for every chunk in restrictTo that matched at least one token.
	Score(ctx context.Context, tokens []string, restrictTo []string) ([]*LexicalResult, error)

	// Count returns the number of indexed chunks.
	Count() int

	Close() error
}

// BM25Config configures BM25 scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64
	// B is the length normalization parameter (default: 0.75)
	B float64
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1: 1.2,
		B:  0.75,
	}
}

// Distance metrics understood by the vector backends.
const (
	MetricCosine = "cos"
	MetricL2     = "l2"
)

// VectorResult is one nearest neighbour. Distance is backend-native (lower is closer).
type VectorResult struct {
	ID       string
	Distance float32
}

// VectorIndex answers nearest-neighbour queries over chunk embeddings.
type VectorIndex interface {
	// Add inserts or replaces vectors.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Nearest returns up to k neighbours ordered by ascending distance.
	Nearest(ctx context.Context, embedding []float32, k int) ([]*VectorResult, error)

	// Metric reports the distance metric (MetricCosine or MetricL2).
	Metric() string

	// Dimensions returns the configured embedding dimension.
	Dimensions() int

	Count() int
	Close() error
}

// VectorConfig configures a vector index.
type VectorConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int    // HNSW max connections per node
	EfSearch   int    // HNSW search candidate list size
}

// DefaultVectorConfig returns the default vector configuration for the given dimension.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		Metric:     MetricCosine,
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch is returned when a vector has the wrong number of components.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
