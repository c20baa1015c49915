package store

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// bm25Doc holds the per-chunk term statistics.
type bm25Doc struct {
	termFreq map[string]int
	length   int
}

// BM25Index is the "memory" lexical backend: textbook BM25 with the
// configured k1 and b, raw term frequency and no coord or query norm.
// Postings are kept per chunk so that document frequency and average length
// can be computed over any subset at query time without building an index.
type BM25Index struct {
	mu     sync.RWMutex
	config BM25Config
	docs   map[string]*bm25Doc
	closed bool
}

// NewBM25Index creates an empty in-memory BM25 index. A non-positive k1 or a
// b outside [0, 1] falls back to the default.
func NewBM25Index(config BM25Config) *BM25Index {
	if config.K1 <= 0 {
		config.K1 = DefaultBM25Config().K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = DefaultBM25Config().B
	}
	return &BM25Index{
		config: config,
		docs:   make(map[string]*bm25Doc),
	}
}

// Index adds or replaces chunks. Content goes through Tokenize, the same
// tokenizer Stage 2 applies to the query.
func (b *BM25Index) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c == nil || c.ID == "" {
			return fmt.Errorf("cannot index chunk without id")
		}
		tokens := Tokenize(c.Content)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		b.docs[c.ID] = &bm25Doc{termFreq: tf, length: len(tokens)}
	}
	return nil
}

// Score implements LexicalIndex. Document count, document frequency and
// average length are taken over the indexed members of restrictTo only.
func (b *BM25Index) Score(ctx context.Context, tokens []string, restrictTo []string) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	terms := uniqueTokens(tokens)
	if len(terms) == 0 || len(restrictTo) == 0 {
		return []*LexicalResult{}, nil
	}

	// Collect the subset, dropping duplicates and unknown IDs.
	subset := make([]string, 0, len(restrictTo))
	seen := make(map[string]struct{}, len(restrictTo))
	totalLen := 0
	for _, id := range restrictTo {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		doc, ok := b.docs[id]
		if !ok {
			continue
		}
		subset = append(subset, id)
		totalLen += doc.length
	}
	if len(subset) == 0 {
		return []*LexicalResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := float64(len(subset))
	avgLen := float64(totalLen) / n
	// Every member is empty; any positive value keeps the length term finite.
	if avgLen == 0 {
		avgLen = 1
	}

	df := make(map[string]int, len(terms))
	for _, id := range subset {
		doc := b.docs[id]
		for _, t := range terms {
			if doc.termFreq[t] > 0 {
				df[t]++
			}
		}
	}

	k1, bb := b.config.K1, b.config.B
	results := make([]*LexicalResult, 0, len(subset))
	for _, id := range subset {
		doc := b.docs[id]
		var score float64
		var matched []string
		for _, t := range terms {
			freq := doc.termFreq[t]
			if freq == 0 {
				continue
			}
			// Lucene's idf, which stays positive for terms in most documents.
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			f := float64(freq)
			norm := f * (k1 + 1) / (f + k1*(1-bb+bb*float64(doc.length)/avgLen))
			score += idf * norm
			matched = append(matched, t)
		}
		if len(matched) == 0 {
			continue
		}
		results = append(results, &LexicalResult{
			ChunkID:      id,
			Score:        score,
			MatchedTerms: matched,
		})
	}

	return results, nil
}

// Count returns the number of indexed chunks.
func (b *BM25Index) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// Close releases the postings.
func (b *BM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.docs = nil
	return nil
}

var _ LexicalIndex = (*BM25Index)(nil)
