package corpus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBundle_Valid(t *testing.T) {
	// Given: two records, one with an embedding, and a blank line
	input := `{"chunk_id":"c1","content":"scipy ttest_ind","library":"scipy","category":"hypothesis_test","function_name":"ttest_ind","embedding":[1,0,0]}

{"chunk_id":"c2","content":"numpy mean","library":"numpy","metadata":{"source":"docs"}}
`

	// When: parsing
	b, err := ReadBundle(strings.NewReader(input))

	// Then: both records parse, in order, with the shared dimension
	require.NoError(t, err)
	require.Len(t, b.Records, 2)
	assert.Equal(t, 3, b.Dimensions)
	assert.Equal(t, "c1", b.Records[0].ID)
	assert.Equal(t, "ttest_ind", b.Records[0].FunctionName)
	assert.Equal(t, "docs", b.Records[1].Metadata["source"])

	chunks := b.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "numpy mean", chunks[1].Content)

	ids, vecs := b.Vectors()
	assert.Equal(t, []string{"c1"}, ids)
	assert.Equal(t, [][]float32{{1, 0, 0}}, vecs)
}

func TestReadBundle_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
		line  int
	}{
		{"missing id", `{"content":"x"}`, ErrMissingID, 1},
		{"blank id", `{"chunk_id":"  ","content":"x"}`, ErrMissingID, 1},
		{"duplicate id", "{\"chunk_id\":\"a\",\"content\":\"x\"}\n{\"chunk_id\":\"a\",\"content\":\"y\"}", ErrDuplicateID, 2},
		{"empty content", `{"chunk_id":"a","content":" "}`, ErrEmptyContent, 1},
		{"dimension drift", "{\"chunk_id\":\"a\",\"content\":\"x\",\"embedding\":[1,0]}\n{\"chunk_id\":\"b\",\"content\":\"y\",\"embedding\":[1,0,0]}", ErrInconsistentDims, 2},
		{"zero embedding", `{"chunk_id":"a","content":"x","embedding":[0,0]}`, ErrInvalidEmbedding, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBundle(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestReadBundle_BadJSON(t *testing.T) {
	_, err := ReadBundle(strings.NewReader("{\"chunk_id\":\"a\",\"content\":\"x\"}\nnot json"))

	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 2, lineErr.Line)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestReadBundle_Empty(t *testing.T) {
	_, err := ReadBundle(strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, ErrEmptyBundle)
}
