package output

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// snippetChars bounds the content preview printed per result.
const snippetChars = 240

// Results prints ranked results in the text format of `amanrag query`.
func (w *Writer) Results(query string, results []*search.ScoredResult) {
	if len(results) == 0 {
		w.Warningf("No results for %q", query)
		return
	}
	for i, r := range results {
		w.result(i+1, r)
	}
}

func (w *Writer) result(rank int, r *search.ScoredResult) {
	title := r.ChunkID
	if r.Chunk != nil && r.Chunk.Title != "" {
		title = r.Chunk.Title
	}
	_, _ = fmt.Fprintf(w.out, "%s %s %s\n",
		w.bold.Sprintf("%d.", rank),
		w.bold.Sprint(title),
		w.green.Sprintf("(%.3f)", r.FinalScore))

	parts := []string{"id=" + r.ChunkID}
	if c := r.Chunk; c != nil {
		if c.Library != "" {
			parts = append(parts, "library="+c.Library)
		}
		if c.Category != "" {
			parts = append(parts, "category="+c.Category)
		}
		if c.FunctionName != "" {
			parts = append(parts, "function="+c.FunctionName)
		}
	}
	parts = append(parts, "lexical="+formatScore(r.LexicalScore), "semantic="+formatScore(r.SemanticScore))
	_, _ = fmt.Fprintf(w.out, "   %s\n", w.faint.Sprint(strings.Join(parts, "  ")))

	if r.Chunk != nil && r.Chunk.Content != "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", snippet(r.Chunk.Content, snippetChars))
	}
	_, _ = fmt.Fprintln(w.out)
}

// Explain prints the per-stage trace of one query.
func (w *Writer) Explain(e *search.Explanation) {
	_, _ = fmt.Fprintf(w.out, "%s %q\n\n", w.bold.Sprint("Query"), e.Query)

	mode := "explicit"
	if e.Inferred {
		mode = "inferred"
	}
	w.KeyValue("filters", fmt.Sprintf("%s library=%q category=%q function=%q",
		mode, e.Filters.Library, e.Filters.Category, e.Filters.FunctionName))
	w.KeyValue("weights", fmt.Sprintf("sql=%.2f lexical=%.2f semantic=%.2f",
		e.Weights.SQL, e.Weights.Lexical, e.Weights.Semantic))
	w.Newline()

	w.stage("1 filter", e.Stage1, false, "", e.Timing.Filter.String())
	w.stage("2 lexical", e.Stage2, e.LexicalSkipped, e.LexicalReason, e.Timing.Lexical.String())
	w.stage("3 semantic", e.Stage3, e.SemanticSkipped, e.SemanticReason, e.Timing.Semantic.String())
	w.Newline()

	_, _ = fmt.Fprintf(w.out, "%s (%s)\n\n", w.bold.Sprint("Results"), e.Timing.Fusion)
	w.Results(e.Query, e.Results)
}

func (w *Writer) stage(name string, ids []string, skipped bool, reason, took string) {
	label := fmt.Sprintf("stage %s:", name)
	switch {
	case skipped:
		_, _ = fmt.Fprintf(w.out, "  %-20s %s %s\n", label, w.yellow.Sprint("skipped"), w.faint.Sprintf("(%s)", reason))
	default:
		_, _ = fmt.Fprintf(w.out, "  %-20s %d candidates %s\n", label, len(ids), w.faint.Sprintf("(%s)", took))
	}
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *s)
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
