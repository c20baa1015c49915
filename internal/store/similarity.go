package store

import (
	"fmt"
	"math"
)

// Similarity converts a backend-native distance into a similarity in [0, 1],
// higher meaning closer.
type Similarity string

const (
	// SimilarityInverseDistance maps d to 1/(1+d). Works for any non-negative distance.
	SimilarityInverseDistance Similarity = "inverse_distance"

	// SimilarityCosineDistance maps a cosine distance in [0, 2] to 1 - d/2.
	SimilarityCosineDistance Similarity = "cosine_distance"

	// SimilaritySimilarity treats the value as a similarity already in [0, 1].
	SimilaritySimilarity Similarity = "similarity"

	// SimilaritySignedSimilarity maps a similarity in [-1, 1] to (s+1)/2.
	SimilaritySignedSimilarity Similarity = "signed_similarity"
)

// ParseSimilarity validates a configured transform name. Empty means the default.
func ParseSimilarity(name string) (Similarity, error) {
	switch s := Similarity(name); s {
	case "":
		return SimilarityInverseDistance, nil
	case SimilarityInverseDistance, SimilarityCosineDistance, SimilaritySimilarity, SimilaritySignedSimilarity:
		return s, nil
	default:
		return "", fmt.Errorf("unknown similarity transform %q (valid: inverse_distance, cosine_distance, similarity, signed_similarity)", name)
	}
}

// Apply converts d, clamping the result to [0, 1]. NaN maps to 0.
func (s Similarity) Apply(d float32) float64 {
	x := float64(d)
	var v float64
	switch s {
	case SimilarityCosineDistance:
		v = 1 - x/2
	case SimilaritySimilarity:
		v = x
	case SimilaritySignedSimilarity:
		v = (x + 1) / 2
	default:
		if x < 0 {
			x = 0
		}
		v = 1 / (1 + x)
	}
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
