package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// --- Test Helpers ---

var errStoreDown = errors.New("store down")

// scenarioChunks is the three-chunk corpus used by most engine tests.
func scenarioChunks() []*store.Chunk {
	return []*store.Chunk{
		{ID: "c1", Content: "scipy ttest_ind", Library: "scipy", Category: "hypothesis_test", FunctionName: "ttest_ind"},
		{ID: "c2", Content: "numpy mean", Library: "numpy", Category: "descriptive", FunctionName: "mean"},
		{ID: "c3", Content: "scipy mannwhitneyu", Library: "scipy", Category: "hypothesis_test", FunctionName: "mannwhitneyu"},
	}
}

// fakeMetadata filters an in-memory chunk list in corpus order.
type fakeMetadata struct {
	chunks []*store.Chunk
	err    error
	calls  atomic.Int32
	last   store.Predicates
	mu     sync.Mutex
}

func (m *fakeMetadata) SelectChunkIDs(ctx context.Context, p store.Predicates) ([]string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = p
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ids := []string{}
	for _, c := range m.chunks {
		if p.Library != "" && !strings.EqualFold(c.Library, p.Library) {
			continue
		}
		if p.Category != "" && !strings.EqualFold(c.Category, p.Category) {
			continue
		}
		if p.FunctionNameContains != "" &&
			!strings.Contains(strings.ToLower(c.FunctionName), strings.ToLower(p.FunctionNameContains)) {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *fakeMetadata) lastPredicates() store.Predicates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *fakeMetadata) SaveChunks(context.Context, []*store.Chunk) error { return nil }
func (m *fakeMetadata) Count(context.Context) (int, error)              { return len(m.chunks), nil }
func (m *fakeMetadata) GetState(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}
func (m *fakeMetadata) SetState(context.Context, string, string) error { return nil }
func (m *fakeMetadata) Close() error                                   { return nil }

// failingLexical always errors.
type failingLexical struct{}

func (failingLexical) Index(context.Context, []*store.Chunk) error { return nil }
func (failingLexical) Score(context.Context, []string, []string) ([]*store.LexicalResult, error) {
	return nil, errStoreDown
}
func (failingLexical) Count() int   { return 0 }
func (failingLexical) Close() error { return nil }

// leakyLexical returns fixed results, including IDs outside restrictTo.
type leakyLexical struct {
	results []*store.LexicalResult
}

func (l leakyLexical) Index(context.Context, []*store.Chunk) error { return nil }
func (l leakyLexical) Score(context.Context, []string, []string) ([]*store.LexicalResult, error) {
	return l.results, nil
}
func (l leakyLexical) Count() int   { return len(l.results) }
func (l leakyLexical) Close() error { return nil }

// fakeVector returns fixed distances, closest first.
type fakeVector struct {
	distances map[string]float32
	extra     []*store.VectorResult
	dims      int
	err       error
	lastK     atomic.Int32
}

func (v *fakeVector) Add(context.Context, []string, [][]float32) error { return nil }

func (v *fakeVector) Nearest(ctx context.Context, _ []float32, k int) ([]*store.VectorResult, error) {
	v.lastK.Store(int32(k))
	if v.err != nil {
		return nil, v.err
	}
	out := make([]*store.VectorResult, 0, len(v.distances)+len(v.extra))
	for id, d := range v.distances {
		out = append(out, &store.VectorResult{ID: id, Distance: d})
	}
	out = append(out, v.extra...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (v *fakeVector) Metric() string  { return store.MetricCosine }
func (v *fakeVector) Dimensions() int { return v.dims }
func (v *fakeVector) Count() int      { return len(v.distances) }
func (v *fakeVector) Close() error    { return nil }

// fakeEmbedder returns a fixed vector, a fixed error, or blocks until release
// is closed (ignoring its context) when block is set.
type fakeEmbedder struct {
	vec     []float32
	err     error
	block   bool
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.block {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) Dimensions() int                { return len(f.vec) }
func (f *fakeEmbedder) ModelName() string              { return "fake" }
func (f *fakeEmbedder) Available(context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                   { return nil }

func blockingEmbedder(t *testing.T) *fakeEmbedder {
	t.Helper()
	f := &fakeEmbedder{vec: []float32{1, 0}, block: true, release: make(chan struct{})}
	t.Cleanup(func() { close(f.release) })
	return f
}

// fakeCorpus serves chunk bodies from a map.
type fakeCorpus struct {
	chunks map[string]*store.Chunk
	err    error
}

func newFakeCorpus(chunks []*store.Chunk) *fakeCorpus {
	m := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	return &fakeCorpus{chunks: m}
}

func (c *fakeCorpus) GetChunk(_ context.Context, id string) (*store.Chunk, error) {
	if ch, ok := c.chunks[id]; ok {
		return ch, nil
	}
	return nil, store.ErrNotFound
}

func (c *fakeCorpus) GetChunks(_ context.Context, ids []string) ([]*store.Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := []*store.Chunk{}
	for _, id := range ids {
		if ch, ok := c.chunks[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *fakeCorpus) ForEach(context.Context, func(*store.Chunk) error) error { return nil }
func (c *fakeCorpus) Close() error                                            { return nil }

// newBM25 indexes chunks into the in-memory BM25 index.
func newBM25(t *testing.T, chunks []*store.Chunk) store.LexicalIndex {
	t.Helper()
	idx := store.NewBM25Index(store.DefaultBM25Config())
	require.NoError(t, idx.Index(context.Background(), chunks))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// newTestEngine builds an engine with defaults over deps.
func newTestEngine(t *testing.T, deps Deps, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EmbedTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return e
}

func resultIDs(results []*ScoredResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}
