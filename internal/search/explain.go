package search

import (
	"context"
	"time"
)

// StageTiming is the wall time spent in each stage.
type StageTiming struct {
	Filter   time.Duration `json:"filter"`
	Lexical  time.Duration `json:"lexical"`
	Semantic time.Duration `json:"semantic"`
	Fusion   time.Duration `json:"fusion"`
}

// Explanation describes how a query was answered.
type Explanation struct {
	Query string `json:"query"`

	// Filters are the predicates Stage 1 applied, explicit or inferred.
	Filters Filters `json:"filters"`

	// Inferred is true when Filters came from the inference table.
	Inferred bool `json:"inferred"`

	// Candidate IDs after each stage, in that stage's order.
	Stage1 []string `json:"stage1"`
	Stage2 []string `json:"stage2"`
	Stage3 []string `json:"stage3"`

	LexicalSkipped  bool   `json:"lexical_skipped"`
	LexicalReason   string `json:"lexical_reason,omitempty"`
	SemanticSkipped bool   `json:"semantic_skipped"`
	SemanticReason  string `json:"semantic_reason,omitempty"`

	Weights Weights     `json:"weights"`
	Timing  StageTiming `json:"timing"`

	Results []*ScoredResult `json:"results"`
}

// Explain runs the same pipeline as Query and reports every stage.
func (e *Engine) Explain(ctx context.Context, text string, filters Filters, topK int) (*Explanation, error) {
	tr, err := e.run(ctx, Query{Text: text, Filters: filters, TopK: topK})
	if err != nil {
		return nil, err
	}

	return &Explanation{
		Query:           text,
		Filters:         tr.filter.applied,
		Inferred:        tr.filter.inferred,
		Stage1:          tr.filter.ids,
		Stage2:          candidateIDs(tr.stage2),
		Stage3:          candidateIDs(tr.stage3),
		LexicalSkipped:  tr.lexicalSkip != "",
		LexicalReason:   tr.lexicalSkip,
		SemanticSkipped: tr.semanticSkip != "",
		SemanticReason:  tr.semanticSkip,
		Weights:         e.config.Weights,
		Timing: StageTiming{
			Filter:   tr.filterTime,
			Lexical:  tr.lexicalTime,
			Semantic: tr.semanticTime,
			Fusion:   tr.fusionTime,
		},
		Results: tr.results,
	}, nil
}
