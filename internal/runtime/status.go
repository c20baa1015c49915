package runtime

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// Status describes a runtime for `amanrag daemon status` and the
// retrieval_status MCP tool.
type Status struct {
	DataDir        string    `json:"data_dir"`
	Generation     int64     `json:"generation"`
	Chunks         int       `json:"chunks"`
	LexicalBackend string    `json:"lexical_backend"`
	LexicalDocs    int       `json:"lexical_docs"`
	VectorBackend  string    `json:"vector_backend,omitempty"`
	Vectors        int       `json:"vectors"`
	Dimensions     int       `json:"dimensions"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	EmbedderReady  bool      `json:"embedder_ready"`
	OpenedAt       time.Time `json:"opened_at"`
}

// Status reports corpus and store sizes. EmbedderReady performs a health
// check against the provider, bounded by ctx.
func (rt *Runtime) Status(ctx context.Context) (*Status, error) {
	n, err := rt.Metadata.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		DataDir:        rt.cfg.Storage.DataDir,
		Generation:     rt.Generation,
		Chunks:         n,
		LexicalBackend: backendOr(rt.cfg.Storage.LexicalBackend, store.LexicalBackendBleve),
		LexicalDocs:    rt.Lexical.Count(),
		OpenedAt:       rt.OpenedAt,
	}
	if rt.Vector != nil {
		st.VectorBackend = backendOr(rt.cfg.Storage.VectorBackend, "hnsw")
		st.Vectors = rt.Vector.Count()
		st.Dimensions = rt.Vector.Dimensions()
	}
	if rt.Embedder != nil {
		st.EmbeddingModel = rt.Embedder.ModelName()
		st.EmbedderReady = rt.Embedder.Available(ctx)
	}
	return st, nil
}

func backendOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
