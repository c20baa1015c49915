package search

import (
	"context"
	"log/slog"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// filterResult is the Stage 1 outcome.
type filterResult struct {
	ids      []string
	applied  Filters
	inferred bool
}

// filter runs Stage 1. Explicit filters win; otherwise one library and one
// category are inferred from the text. With neither, the whole corpus is selected.
// A metadata store error is fatal for the query.
func (e *Engine) filter(ctx context.Context, text string, filters Filters) (*filterResult, error) {
	res := &filterResult{}
	if !filters.IsEmpty() {
		res.applied = filters
	} else {
		lib, cat := e.config.Inference.Infer(text)
		res.applied = Filters{Library: lib, Category: cat}
		res.inferred = !res.applied.IsEmpty()
	}

	ids, err := e.metadata.SelectChunkIDs(ctx, res.applied.predicates())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Error("metadata store unavailable",
			slog.String("stage", "filter"),
			slog.String("error", err.Error()))
		return nil, amerrors.New(amerrors.ErrCodeMetadataUnavailable, "metadata store unavailable", err).
			WithSuggestion("Check that the corpus was loaded with 'amanrag load'")
	}

	res.ids = dedupe(ids)
	return res, nil
}

// dedupe drops repeated IDs, keeping first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
