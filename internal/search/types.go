// Package search runs the four-stage retrieval pipeline: a metadata predicate
// filter narrows the corpus, BM25 scores the survivors, embedding similarity
// narrows them again, and a weighted fusion ranks what is left.
//
// Each stage after the first degrades to pass-through when its store is
// missing or fails. The predicate filter never degrades: a metadata store
// error aborts the query with ErrMetadataUnavailable.
package search

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Defaults for Config.
const (
	DefaultTopK                = 5
	DefaultLexicalTopN         = 10
	DefaultEmbedTimeout        = 30 * time.Second
	DefaultSemanticFetchFactor = 4
)

// weightSumTolerance bounds |wSQL + wLex + wVec - 1|.
const weightSumTolerance = 1e-9

var (
	// ErrMetadataUnavailable is returned when Stage 1 cannot read the metadata store.
	ErrMetadataUnavailable = amerrors.New(amerrors.ErrCodeMetadataUnavailable, "metadata store unavailable", nil)

	// ErrInvalidConfig is returned by NewEngine for an unusable Config.
	ErrInvalidConfig = amerrors.New(amerrors.ErrCodeConfigInvalid, "invalid retrieval configuration", nil)

	// ErrInvalidTopK is returned for a negative top_k.
	ErrInvalidTopK = amerrors.New(amerrors.ErrCodeInvalidTopK, "top_k must not be negative", nil)

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("nil dependency")
)

// Filters are the caller's explicit metadata constraints. Any non-empty field
// disables inference for the whole query.
type Filters struct {
	Library      string `json:"library,omitempty"`
	Category     string `json:"category,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return strings.TrimSpace(f.Library) == "" &&
		strings.TrimSpace(f.Category) == "" &&
		strings.TrimSpace(f.FunctionName) == ""
}

func (f Filters) predicates() store.Predicates {
	return store.Predicates{
		Library:              strings.TrimSpace(f.Library),
		Category:             strings.TrimSpace(f.Category),
		FunctionNameContains: strings.TrimSpace(f.FunctionName),
	}
}

// Query is one retrieval request. TopK == 0 yields an empty result; surfaces
// substitute the engine's default before building a Query.
type Query struct {
	Text    string  `json:"text"`
	Filters Filters `json:"filters,omitempty"`
	TopK    int     `json:"top_k"`
}

// ScoredResult is one ranked chunk. A nil score means the stage that produces
// it was skipped for this query.
type ScoredResult struct {
	ChunkID       string   `json:"chunk_id"`
	LexicalScore  *float64 `json:"lexical_score,omitempty"`
	SemanticScore *float64 `json:"semantic_score,omitempty"`
	FinalScore    float64  `json:"final_score"`

	// MatchedTerms are the query tokens found in the chunk by the lexical stage.
	MatchedTerms []string `json:"matched_terms,omitempty"`

	// Chunk is nil when the corpus does not have the chunk.
	Chunk *store.Chunk `json:"chunk,omitempty"`
}

// Weights are the fusion coefficients. They must be non-negative and sum to 1.
type Weights struct {
	// SQL is credited to every candidate that survived the predicate filter (default: 0.3).
	SQL float64 `json:"sql"`

	// Lexical multiplies the min-max normalised BM25 score (default: 0.3).
	Lexical float64 `json:"lexical"`

	// Semantic multiplies the embedding similarity (default: 0.4).
	Semantic float64 `json:"semantic"`
}

// DefaultWeights returns the default fusion weights.
func DefaultWeights() Weights {
	return Weights{
		SQL:      0.3,
		Lexical:  0.3,
		Semantic: 0.4,
	}
}

// Config configures an Engine.
type Config struct {
	Weights Weights

	// DefaultTopK is what surfaces use when the caller gives no top_k.
	DefaultTopK int

	// LexicalTopN is how many candidates survive Stage 2.
	LexicalTopN int

	// EmbedTimeout bounds the query embedding call.
	EmbedTimeout time.Duration

	// SemanticFetchFactor multiplies the neighbour count asked of the vector index.
	SemanticFetchFactor int

	// Similarity converts vector distances into [0, 1].
	Similarity store.Similarity

	Inference InferenceTable
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		DefaultTopK:         DefaultTopK,
		LexicalTopN:         DefaultLexicalTopN,
		EmbedTimeout:        DefaultEmbedTimeout,
		SemanticFetchFactor: DefaultSemanticFetchFactor,
		Similarity:          store.SimilarityInverseDistance,
		Inference:           DefaultInferenceTable(),
	}
}

// Validate returns an ErrInvalidConfig error describing the first violation.
func (c Config) Validate() error {
	w := c.Weights
	for _, f := range []struct {
		name string
		v    float64
	}{{"sql", w.SQL}, {"lexical", w.Lexical}, {"semantic", w.Semantic}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return invalidConfig("weights."+f.name, fmt.Sprintf("weight must be a non-negative number, got %v", f.v))
		}
	}
	if sum := w.SQL + w.Lexical + w.Semantic; math.Abs(sum-1) > weightSumTolerance {
		return invalidConfig("weights", fmt.Sprintf("weights must sum to 1.0, got %v", sum))
	}
	if c.DefaultTopK <= 0 {
		return invalidConfig("default_top_k", fmt.Sprintf("must be positive, got %d", c.DefaultTopK))
	}
	if c.LexicalTopN <= 0 {
		return invalidConfig("lexical_top_n", fmt.Sprintf("must be positive, got %d", c.LexicalTopN))
	}
	if c.EmbedTimeout <= 0 {
		return invalidConfig("embed_timeout", fmt.Sprintf("must be positive, got %s", c.EmbedTimeout))
	}
	if c.SemanticFetchFactor < 1 {
		return invalidConfig("semantic_fetch_factor", fmt.Sprintf("must be at least 1, got %d", c.SemanticFetchFactor))
	}
	if _, err := store.ParseSimilarity(string(c.Similarity)); err != nil {
		return invalidConfig("similarity", err.Error())
	}
	if err := c.Inference.validate(); err != nil {
		return invalidConfig("inference", err.Error())
	}
	return nil
}

func invalidConfig(field, msg string) error {
	return amerrors.New(amerrors.ErrCodeConfigInvalid, msg, nil).
		WithDetail("field", field)
}

func invalidTopK(k int) error {
	return amerrors.New(amerrors.ErrCodeInvalidTopK, fmt.Sprintf("top_k must not be negative, got %d", k), nil).
		WithSuggestion("Pass 0 for an empty result or omit top_k for the default")
}

// candidate is one chunk moving through the stages.
type candidate struct {
	id       string
	lexical  *float64
	semantic *float64
	matched  []string
}

func passThrough(ids []string) []candidate {
	out := make([]candidate, len(ids))
	for i, id := range ids {
		out[i] = candidate{id: id}
	}
	return out
}

func candidateIDs(cands []candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}
