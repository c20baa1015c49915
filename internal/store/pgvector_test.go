package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPgVectorIndex_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := OpenPgVectorIndex(ctx, "", VectorConfig{Dimensions: 3})
	assert.ErrorContains(t, err, "empty dsn")

	_, err = OpenPgVectorIndex(ctx, "postgres://localhost/none", VectorConfig{})
	assert.ErrorContains(t, err, "dimensions must be positive")
}

// TestPgVectorIndex_Live runs against a real Postgres with the vector
// extension when AMANRAG_TEST_POSTGRES_DSN is set.
func TestPgVectorIndex_Live(t *testing.T) {
	dsn := os.Getenv("AMANRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AMANRAG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	idx, err := OpenPgVectorIndex(ctx, dsn, VectorConfig{Dimensions: 3, Metric: MetricCosine})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = idx.Prune(ctx, nil)
		_ = idx.Close()
	})
	require.NoError(t, idx.Prune(ctx, nil))

	// Given: three vectors
	require.NoError(t, idx.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}}))
	assert.Equal(t, 3, idx.Count())

	// When: searching near a
	res, err := idx.Nearest(ctx, []float32{1, 0, 0}, 2)

	// Then: a comes first, then c
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "c", res[1].ID)

	// When: pruning to b
	require.NoError(t, idx.Prune(ctx, []string{"b"}))

	// Then: only b is left
	assert.Equal(t, 1, idx.Count())

	_, err = idx.Nearest(ctx, []float32{1, 0}, 1)
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}
