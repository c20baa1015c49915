package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// lexical runs Stage 2: BM25 over the Stage 1 set, keeping the top LexicalTopN.
// Candidates the index does not return score 0. On a missing or failing index
// the Stage 1 set passes through unscored and the reason is returned.
func (e *Engine) lexical(ctx context.Context, text string, ids []string) ([]candidate, string, error) {
	if len(ids) == 0 {
		return []candidate{}, "", nil
	}
	if e.lexicalIndex == nil {
		return passThrough(ids), "lexical index not configured", nil
	}

	results, err := e.lexicalIndex.Score(ctx, store.Tokenize(text), ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		e.logger.Warn("lexical stage skipped",
			slog.String("stage", "lexical"),
			slog.String("error", err.Error()))
		return passThrough(ids), err.Error(), nil
	}

	byID := make(map[string]*store.LexicalResult, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		byID[r.ChunkID] = r
	}

	// Iterating ids rather than results drops anything outside the Stage 1 set.
	cands := make([]candidate, len(ids))
	for i, id := range ids {
		score := 0.0
		var matched []string
		if r, ok := byID[id]; ok {
			score = r.Score
			matched = r.MatchedTerms
		}
		cands[i] = candidate{id: id, lexical: &score, matched: matched}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return *cands[i].lexical > *cands[j].lexical
	})

	if len(cands) > e.config.LexicalTopN {
		cands = cands[:e.config.LexicalTopN]
	}
	return cands, "", nil
}
