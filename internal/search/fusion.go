package search

import "sort"

// fuse runs Stage 4:
//
//	final = w.SQL + w.Lexical*normLex + w.Semantic*sem
//
// normLex is the min-max normalised lexical score over the candidates that have
// one; when all of them are equal each gets 1.0. Absent scores contribute 0.
// cands must be in Stage 2 order: the stable sort breaks ties by that rank.
func fuse(cands []candidate, w Weights, topK int) []*ScoredResult {
	if len(cands) == 0 || topK <= 0 {
		return []*ScoredResult{}
	}

	// scored is false when Stage 2 was skipped: every normLex is then 0.
	lo, hi, scored := lexicalRange(cands)

	results := make([]*ScoredResult, len(cands))
	for i, c := range cands {
		norm := 0.0
		if c.lexical != nil && scored {
			if hi == lo {
				norm = 1.0
			} else {
				norm = (*c.lexical - lo) / (hi - lo)
			}
		}
		sem := 0.0
		if c.semantic != nil {
			sem = *c.semantic
		}

		results[i] = &ScoredResult{
			ChunkID:       c.id,
			LexicalScore:  copyScore(c.lexical),
			SemanticScore: copyScore(c.semantic),
			FinalScore:    w.SQL + w.Lexical*norm + w.Semantic*sem,
			MatchedTerms:  c.matched,
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// lexicalRange returns min and max over present lexical scores.
func lexicalRange(cands []candidate) (lo, hi float64, ok bool) {
	for _, c := range cands {
		if c.lexical == nil {
			continue
		}
		v := *c.lexical
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, ok
}

// copyScore detaches a result's score from the candidate it came from.
func copyScore(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
