package mcp

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query        string `json:"query" jsonschema:"natural language question about a statistics or data science library function"`
	Library      string `json:"library,omitempty" jsonschema:"restrict to one library, e.g. scipy, numpy, pandas; disables library and category inference"`
	Category     string `json:"category,omitempty" jsonschema:"restrict to one category, e.g. hypothesis_test, correlation, regression"`
	FunctionName string `json:"function_name,omitempty" jsonschema:"restrict to functions whose name contains this text"`
	TopK         *int   `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5; 0 returns nothing"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results    []RetrieveResult `json:"results" jsonschema:"results, best first"`
	Generation int64            `json:"generation" jsonschema:"corpus generation that answered the query"`
}

// RetrieveResult is one ranked chunk.
type RetrieveResult struct {
	ChunkID       string   `json:"chunk_id"`
	Title         string   `json:"title,omitempty"`
	Library       string   `json:"library,omitempty"`
	Category      string   `json:"category,omitempty"`
	FunctionName  string   `json:"function_name,omitempty"`
	Content       string   `json:"content,omitempty"`
	FinalScore    float64  `json:"final_score" jsonschema:"fused relevance score in [0, 1]"`
	LexicalScore  *float64 `json:"lexical_score,omitempty" jsonschema:"raw BM25 score, absent when keyword scoring was skipped"`
	SemanticScore *float64 `json:"semantic_score,omitempty" jsonschema:"embedding similarity in [0, 1], absent when semantic scoring was skipped"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
}

// StatusInput defines the input schema for the retrieval_status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the retrieval_status tool.
type StatusOutput struct {
	Loaded         bool   `json:"loaded" jsonschema:"false until a corpus has been loaded"`
	Generation     int64  `json:"generation"`
	Chunks         int    `json:"chunks"`
	LexicalBackend string `json:"lexical_backend,omitempty"`
	VectorBackend  string `json:"vector_backend,omitempty"`
	Vectors        int    `json:"vectors"`
	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	EmbedderReady  bool   `json:"embedder_ready" jsonschema:"false means queries rank on metadata and keywords only"`
	OpenedAt       string `json:"opened_at,omitempty"`
	Reloads        int64  `json:"reloads"`
}

func toRetrieveResult(r *search.ScoredResult) RetrieveResult {
	out := RetrieveResult{
		ChunkID:       r.ChunkID,
		FinalScore:    r.FinalScore,
		LexicalScore:  r.LexicalScore,
		SemanticScore: r.SemanticScore,
		MatchedTerms:  r.MatchedTerms,
	}
	if c := r.Chunk; c != nil {
		out.Title = c.Title
		out.Library = c.Library
		out.Category = c.Category
		out.FunctionName = c.FunctionName
		out.Content = c.Content
	}
	return out
}

func toStatusOutput(st daemon.StatusResult) StatusOutput {
	out := StatusOutput{Reloads: st.Reloads}
	if rs := st.Runtime; rs != nil {
		out.Loaded = true
		out.Generation = rs.Generation
		out.Chunks = rs.Chunks
		out.LexicalBackend = rs.LexicalBackend
		out.VectorBackend = rs.VectorBackend
		out.Vectors = rs.Vectors
		out.Dimensions = rs.Dimensions
		out.EmbeddingModel = rs.EmbeddingModel
		out.EmbedderReady = rs.EmbedderReady
		out.OpenedAt = rs.OpenedAt.Format(time.RFC3339)
	}
	return out
}
