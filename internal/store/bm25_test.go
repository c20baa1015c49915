package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBM25(t *testing.T, chunks ...*Chunk) *BM25Index {
	t.Helper()
	idx := NewBM25Index(DefaultBM25Config())
	require.NoError(t, idx.Index(context.Background(), chunks))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBM25Index_ScoresOnlyRestrictedMatches(t *testing.T) {
	// Given: three chunks, two containing "alpha"
	idx := newTestBM25(t,
		&Chunk{ID: "a", Content: "alpha beta"},
		&Chunk{ID: "b", Content: "alpha gamma"},
		&Chunk{ID: "c", Content: "delta"},
	)

	// When: scoring "alpha" restricted to {a, c}
	results, err := idx.Score(context.Background(), []string{"alpha"}, []string{"a", "c"})
	require.NoError(t, err)

	// Then: only a is returned; b is outside the subset, c doesn't match
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, []string{"alpha"}, results[0].MatchedTerms)
}

func TestBM25Index_StatisticsComeFromSubset(t *testing.T) {
	// Given: "alpha" appears in a and b but not c
	idx := newTestBM25(t,
		&Chunk{ID: "a", Content: "alpha beta"},
		&Chunk{ID: "b", Content: "alpha gamma"},
		&Chunk{ID: "c", Content: "delta epsilon"},
	)
	ctx := context.Background()

	// When: a is scored against a subset where alpha is common, then rare
	common, err := idx.Score(ctx, []string{"alpha"}, []string{"a", "b"})
	require.NoError(t, err)
	rare, err := idx.Score(ctx, []string{"alpha"}, []string{"a", "c"})
	require.NoError(t, err)

	// Then: the rare-term subset gives a higher idf and so a higher score
	require.Len(t, common, 2)
	require.Len(t, rare, 1)
	assert.Greater(t, rare[0].Score, common[0].Score)
}

func TestBM25Index_EqualDocumentsTie(t *testing.T) {
	// Given: two chunks with the same length sharing the query term
	idx := newTestBM25(t,
		&Chunk{ID: "c1", Content: "scipy ttest_ind"},
		&Chunk{ID: "c3", Content: "scipy mannwhitneyu"},
	)

	// When: scoring "scipy t-test"
	results, err := idx.Score(context.Background(), Tokenize("scipy t-test"), []string{"c1", "c3"})
	require.NoError(t, err)

	// Then: both score identically
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
}

func TestBM25Index_EmptyInputs(t *testing.T) {
	idx := newTestBM25(t, &Chunk{ID: "a", Content: "alpha"})
	ctx := context.Background()

	results, err := idx.Score(ctx, nil, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Score(ctx, []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Score(ctx, []string{"alpha"}, []string{"unknown"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25Index_ClosedReturnsError(t *testing.T) {
	idx := NewBM25Index(DefaultBM25Config())
	require.NoError(t, idx.Close())

	_, err := idx.Score(context.Background(), []string{"x"}, []string{"a"})
	assert.ErrorIs(t, err, ErrClosed)
}
