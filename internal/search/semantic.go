package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/embed"
)

type embedResult struct {
	vec []float32
	err error
}

// semantic runs Stage 3: embed the query, fetch neighbours and keep the Stage 2
// candidates that are among them, in Stage 2 order. Any failure, or an empty
// intersection, passes the Stage 2 set through unscored and returns the reason.
// Only cancellation of ctx is an error.
func (e *Engine) semantic(ctx context.Context, text string, cands []candidate, topK int) ([]candidate, string, error) {
	if len(cands) == 0 {
		return cands, "", nil
	}
	if e.embedder == nil {
		return cands, "embedder not configured", nil
	}
	if e.vectorIndex == nil {
		return cands, "vector index not configured", nil
	}

	vec, err := e.embedQuery(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return e.skipSemantic(cands, fmt.Errorf("embed query: %w", err))
	}
	if dims := e.vectorIndex.Dimensions(); dims > 0 && dims != len(vec) {
		return e.skipSemantic(cands, fmt.Errorf("query embedding has %d dimensions, index has %d", len(vec), dims))
	}

	k := max(topK, len(cands)) * e.config.SemanticFetchFactor
	neighbours, err := e.vectorIndex.Nearest(ctx, vec, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return e.skipSemantic(cands, fmt.Errorf("nearest neighbours: %w", err))
	}

	best := make(map[string]float64, len(neighbours))
	for _, n := range neighbours {
		if n == nil {
			continue
		}
		sim := e.config.Similarity.Apply(n.Distance)
		if prev, ok := best[n.ID]; !ok || sim > prev {
			best[n.ID] = sim
		}
	}

	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		sim, ok := best[c.id]
		if !ok {
			continue
		}
		c.semantic = &sim
		out = append(out, c)
	}
	if len(out) == 0 {
		return e.skipSemantic(cands, errors.New("no nearest neighbour among the candidates"))
	}
	return out, "", nil
}

func (e *Engine) skipSemantic(cands []candidate, err error) ([]candidate, string, error) {
	e.logger.Warn("semantic stage skipped",
		slog.String("stage", "semantic"),
		slog.String("error", err.Error()))
	return cands, err.Error(), nil
}

// embedQuery runs the embedder in a goroutine bounded by EmbedTimeout. If ctx is
// cancelled first the call is abandoned; its own context is cancelled with it.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.config.EmbedTimeout)
	defer cancel()

	resultCh := make(chan embedResult, 1)
	go func() {
		vec, err := e.embedder.Embed(embedCtx, text)
		resultCh <- embedResult{vec: vec, err: err}
	}()

	select {
	case <-embedCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embedding timed out after %s: %w", e.config.EmbedTimeout, embedCtx.Err())
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		if err := embed.CheckVector(r.vec); err != nil {
			return nil, err
		}
		return r.vec, nil
	}
}
