package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	blevesearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
)

const (
	// FieldsTokenizerName splits on Unicode whitespace, matching Tokenize.
	FieldsTokenizerName = "fields_tokenizer"

	// FieldsAnalyzerName is fields_tokenizer followed by lowercasing.
	FieldsAnalyzerName = "fields_analyzer"

	bleveContentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(FieldsTokenizerName, fieldsTokenizerConstructor)
}

// BleveIndex scores with Bleve's BM25 model (k1 1.2, b 0.75). Bleve computes
// term statistics over the whole index it searches, so each Score call builds a
// throwaway in-memory scorch index over restrictTo and searches that.
//
// Scores follow Bleve's BM25 variant: term frequency enters as its square root
// and a disjunction multiplies the sum by matched/total terms. Rankings match
// the textbook formula closely; use BM25Index when exact scores matter.
type BleveIndex struct {
	mu       sync.RWMutex
	contents map[string]string
	mapping  *mapping.IndexMappingImpl
	closed   bool
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveIndex creates an empty Bleve-backed lexical index.
func NewBleveIndex() (*BleveIndex, error) {
	m, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}
	return &BleveIndex{
		contents: make(map[string]string),
		mapping:  m,
	}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(FieldsAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": FieldsTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = FieldsAnalyzerName
	indexMapping.ScoringModel = index.BM25Scoring
	return indexMapping, nil
}

// Index records chunk text for later per-query indexing.
func (b *BleveIndex) Index(ctx context.Context, chunks []*Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return fmt.Errorf("cannot index chunk without id")
		}
		b.contents[c.ID] = c.Content
	}
	return nil
}

// Score implements LexicalIndex.
func (b *BleveIndex) Score(ctx context.Context, tokens []string, restrictTo []string) ([]*LexicalResult, error) {
	terms := uniqueTokens(tokens)
	if len(terms) == 0 || len(restrictTo) == 0 {
		return []*LexicalResult{}, nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	// scorch with an empty path stays in memory and, unlike the upsidedown
	// store behind NewMemOnly, reports the field lengths BM25 needs.
	idx, err := bleve.NewUsing("", b.mapping, scorch.Name, bleve.Config.DefaultMemKVStore, nil)
	if err != nil {
		b.mu.RUnlock()
		return nil, fmt.Errorf("failed to create subset index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	batch := idx.NewBatch()
	size := 0
	for _, id := range restrictTo {
		content, ok := b.contents[id]
		if !ok {
			continue
		}
		if err := batch.Index(id, bleveDocument{Content: content}); err != nil {
			b.mu.RUnlock()
			return nil, fmt.Errorf("failed to index document %s: %w", id, err)
		}
		size++
	}
	b.mu.RUnlock()

	if size == 0 {
		return []*LexicalResult{}, nil
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	disjuncts := make([]query.Query, 0, len(terms))
	for _, t := range terms {
		tq := bleve.NewTermQuery(t)
		tq.SetField(bleveContentField)
		disjuncts = append(disjuncts, tq)
	}
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(disjuncts...))
	req.Size = size
	req.IncludeLocations = true

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &LexicalResult{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// Count returns the number of chunks known to the index.
func (b *BleveIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contents)
}

// Close drops the stored text.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.contents = nil
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit, sorted.
func extractMatchedTerms(hit *blevesearch.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == bleveContentField {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

var _ LexicalIndex = (*BleveIndex)(nil)

func fieldsTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &fieldsTokenizer{}, nil
}

// fieldsTokenizer emits maximal runs of non-space runes.
type fieldsTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *fieldsTokenizer) Tokenize(input []byte) analysis.TokenStream {
	result := make(analysis.TokenStream, 0)
	pos := 1
	start := -1

	for i := 0; i < len(input); {
		r, w := utf8.DecodeRune(input[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				result = append(result, newToken(input, start, i, pos))
				pos++
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += w
	}
	if start >= 0 {
		result = append(result, newToken(input, start, len(input), pos))
	}
	return result
}

func newToken(input []byte, start, end, pos int) *analysis.Token {
	return &analysis.Token{
		Term:     append([]byte(nil), input[start:end]...),
		Start:    start,
		End:      end,
		Position: pos,
		Type:     analysis.AlphaNumeric,
	}
}
