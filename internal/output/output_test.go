package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Checking embedder...") }, "🔍 Checking embedder...\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("Loaded %d chunks", 3) }, "✓ Loaded 3 chunks\n"},
		{"warning", func(w *Writer) { w.Warning("Embedder not available") }, "! Embedder not available\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, "✗ failed: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer without color
			buf := &bytes.Buffer{}
			w := NewWithColor(buf, false)

			// When: writing
			tt.write(w)

			// Then: output is plain text
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_ColorAddsEscapes(t *testing.T) {
	// Given: a writer with color forced on
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	// When: printing a success message
	w.Success("done")

	// Then: ANSI escapes are present
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "done")
}

func TestNew_BufferIsNotTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.False(t, IsTTY(buf))

	w := New(buf)
	w.Success("plain")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestWriter_Code(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	w.Code("line1\nline2")

	assert.Equal(t, "\n  line1\n  line2\n\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	require.NoError(t, w.JSON(map[string]int{"chunks": 3}))

	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}

func sampleResults() []*search.ScoredResult {
	lex := 3.25
	sem := 0.5
	return []*search.ScoredResult{
		{
			ChunkID:       "c1",
			LexicalScore:  &lex,
			SemanticScore: &sem,
			FinalScore:    0.75,
			Chunk: &store.Chunk{
				ID:           "c1",
				Title:        "scipy.stats.pearsonr",
				Library:      "scipy",
				Category:     "correlation",
				FunctionName: "pearsonr",
				Content:      "Pearson   correlation\ncoefficient.",
			},
		},
		{ChunkID: "c2", FinalScore: 0.3},
	}
}

func TestWriter_Results(t *testing.T) {
	// Given: two results, one without chunk data
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	// When: printing
	w.Results("pearson", sampleResults())

	// Then: ranks, scores and metadata are printed
	out := buf.String()
	assert.Contains(t, out, "1. scipy.stats.pearsonr (0.750)")
	assert.Contains(t, out, "id=c1  library=scipy  category=correlation  function=pearsonr  lexical=3.250  semantic=0.500")
	assert.Contains(t, out, "Pearson correlation coefficient.")
	assert.Contains(t, out, "2. c2 (0.300)")
	assert.Contains(t, out, "lexical=-  semantic=-")
}

func TestWriter_ResultsEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	w.Results("nothing", nil)

	assert.Equal(t, "! No results for \"nothing\"\n", buf.String())
}

func TestWriter_Explain(t *testing.T) {
	// Given: a trace with a skipped semantic stage
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)
	e := &search.Explanation{
		Query:           "pearson correlation",
		Filters:         search.Filters{Category: "correlation"},
		Inferred:        true,
		Stage1:          []string{"c1", "c2", "c3"},
		Stage2:          []string{"c1", "c2"},
		Stage3:          []string{"c1", "c2"},
		SemanticSkipped: true,
		SemanticReason:  "no embedder",
		Weights:         search.DefaultWeights(),
		Timing:          search.StageTiming{Filter: time.Millisecond},
		Results:         sampleResults(),
	}

	// When: printing
	w.Explain(e)

	// Then: each stage is summarised
	out := buf.String()
	assert.Contains(t, out, `inferred library="" category="correlation"`)
	assert.Contains(t, out, "sql=0.30 lexical=0.30 semantic=0.40")
	assert.Contains(t, out, "stage 1 filter:")
	assert.Contains(t, out, "3 candidates (1ms)")
	assert.Contains(t, out, "2 candidates")
	assert.Contains(t, out, "skipped (no embedder)")
	assert.Contains(t, out, "1. scipy.stats.pearsonr")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet("a\n\n b", 10))
	assert.Equal(t, strings.Repeat("x", 5)+"...", snippet(strings.Repeat("x", 8), 5))
}
