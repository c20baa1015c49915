// Package embed turns query text into embedding vectors.
//
// Providers: Ollama (default), OpenAI, and a deterministic hash-based static
// embedder for offline use. CachedEmbedder and GuardedEmbedder decorate any of them.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultTimeout bounds a single provider request when the caller sets no deadline.
	DefaultTimeout = 30 * time.Second

	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256
)

var (
	// ErrEmptyInput is returned for empty or whitespace-only text.
	ErrEmptyInput = errors.New("cannot embed empty text")

	// ErrZeroVector is returned when a provider yields an empty or all-zero vector.
	ErrZeroVector = errors.New("embedding is empty or all zeros")

	// ErrClosed is returned by a closed embedder.
	ErrClosed = errors.New("embedder is closed")
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for one text. It never returns a zero vector
	// without an error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension (0 if not yet known).
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// CheckVector returns ErrZeroVector for a nil, empty, all-zero or non-finite vector.
func CheckVector(v []float32) error {
	if len(v) == 0 {
		return ErrZeroVector
	}
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrZeroVector
		}
		if x != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return ErrZeroVector
	}
	return nil
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
