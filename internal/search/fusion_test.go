package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestFuse_MinMaxNormalisation(t *testing.T) {
	// Given: lexical scores 4, 2, 1 and no semantic scores
	cands := []candidate{
		{id: "a", lexical: score(4)},
		{id: "b", lexical: score(2)},
		{id: "c", lexical: score(1)},
	}

	// When: fusing with the default weights
	results := fuse(cands, DefaultWeights(), 10)

	// Then: the normalised lexical score spans [0, 1]
	require.Len(t, results, 3)
	assert.InDelta(t, 0.6, results[0].FinalScore, 1e-12)
	assert.InDelta(t, 0.3+0.3*(1.0/3.0), results[1].FinalScore, 1e-12)
	assert.InDelta(t, 0.3, results[2].FinalScore, 1e-12)
	assert.Equal(t, 4.0, *results[0].LexicalScore)
}

func TestFuse_SingleLexicalScoreNormalisesToOne(t *testing.T) {
	cands := []candidate{{id: "a", lexical: score(0.7), semantic: score(0.5)}}

	results := fuse(cands, DefaultWeights(), 10)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.3+0.3+0.4*0.5, results[0].FinalScore, 1e-12)
}

func TestFuse_AbsentScoresContributeZero(t *testing.T) {
	cands := []candidate{
		{id: "a"},
		{id: "b", lexical: score(3), semantic: score(0.9)},
		{id: "c", lexical: score(1)},
	}

	results := fuse(cands, DefaultWeights(), 10)

	byID := map[string]*ScoredResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}
	assert.InDelta(t, 0.3, byID["a"].FinalScore, 1e-12)
	assert.Nil(t, byID["a"].LexicalScore)
	assert.Nil(t, byID["a"].SemanticScore)
	assert.InDelta(t, 0.3+0.3+0.4*0.9, byID["b"].FinalScore, 1e-12)
	assert.InDelta(t, 0.3, byID["c"].FinalScore, 1e-12)
}

func TestFuse_TiesKeepStage2Order(t *testing.T) {
	// Given: equal scores
	cands := []candidate{
		{id: "z", semantic: score(0.5)},
		{id: "m", semantic: score(0.5)},
		{id: "a", semantic: score(0.5)},
	}

	// When: fusing
	results := fuse(cands, DefaultWeights(), 10)

	// Then: input order is kept, not ID order
	assert.Equal(t, []string{"z", "m", "a"}, resultIDs(results))
}

func TestFuse_Truncates(t *testing.T) {
	cands := []candidate{{id: "a"}, {id: "b"}, {id: "c"}}

	assert.Len(t, fuse(cands, DefaultWeights(), 2), 2)
	assert.Len(t, fuse(cands, DefaultWeights(), 5), 3)
	assert.Empty(t, fuse(cands, DefaultWeights(), 0))
	assert.NotNil(t, fuse(nil, DefaultWeights(), 5))
}

func TestFuse_SemanticCanOutrankLexical(t *testing.T) {
	// Given: a lexical winner with no semantic signal and a semantic winner
	cands := []candidate{
		{id: "lex", lexical: score(5), semantic: score(0.1)},
		{id: "sem", lexical: score(4), semantic: score(1.0)},
	}

	// When: fusing with weights favouring semantic
	results := fuse(cands, Weights{SQL: 0.2, Lexical: 0.2, Semantic: 0.6}, 10)

	// Then: the semantic winner is first
	assert.Equal(t, []string{"sem", "lex"}, resultIDs(results))
}

func TestFuse_ResultsOwnTheirScores(t *testing.T) {
	lex := score(1)
	cands := []candidate{{id: "a", lexical: lex}}

	results := fuse(cands, DefaultWeights(), 1)
	*lex = 42

	assert.Equal(t, 1.0, *results[0].LexicalScore)
}
