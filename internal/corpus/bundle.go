package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// maxLineSize bounds one bundle record. Embeddings of a few thousand floats
// fit comfortably.
const maxLineSize = 16 * 1024 * 1024

// Record is one bundle line.
type Record struct {
	store.Chunk

	// Embedding is optional. A chunk without one never gets a semantic score.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Bundle is a parsed and validated bundle.
type Bundle struct {
	Records []*Record

	// Dimensions is the shared embedding length, 0 when no record has one.
	Dimensions int
}

// Chunks returns the chunks in bundle order.
func (b *Bundle) Chunks() []*store.Chunk {
	out := make([]*store.Chunk, len(b.Records))
	for i, r := range b.Records {
		out[i] = &r.Chunk
	}
	return out
}

// Vectors returns the IDs and embeddings of records that carry one.
func (b *Bundle) Vectors() ([]string, [][]float32) {
	var (
		ids  []string
		vecs [][]float32
	)
	for _, r := range b.Records {
		if len(r.Embedding) > 0 {
			ids = append(ids, r.ID)
			vecs = append(vecs, r.Embedding)
		}
	}
	return ids, vecs
}

// LineError reports an invalid bundle line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Validation failures.
var (
	ErrMissingID        = errors.New("chunk_id is required")
	ErrDuplicateID      = errors.New("duplicate chunk_id")
	ErrEmptyContent     = errors.New("content is empty")
	ErrInconsistentDims = errors.New("embedding dimension differs from earlier records")
	ErrInvalidEmbedding = errors.New("embedding must be finite and non-zero")
	ErrEmptyBundle      = errors.New("bundle contains no records")
)

// ReadBundle parses r as JSONL. Blank lines are skipped. The first invalid
// line stops the read with a *LineError.
func ReadBundle(r io.Reader) (*Bundle, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	b := &Bundle{}
	seen := make(map[string]int)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		rec := &Record{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, &LineError{Line: line, Err: fmt.Errorf("invalid JSON: %w", err)}
		}
		if err := b.check(rec, seen); err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		seen[rec.ID] = line
		b.Records = append(b.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	if len(b.Records) == 0 {
		return nil, ErrEmptyBundle
	}
	return b, nil
}

func (b *Bundle) check(rec *Record, seen map[string]int) error {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return ErrMissingID
	}
	if first, ok := seen[rec.ID]; ok {
		return fmt.Errorf("%w %q (first seen on line %d)", ErrDuplicateID, rec.ID, first)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return fmt.Errorf("%w for %q", ErrEmptyContent, rec.ID)
	}
	if len(rec.Embedding) == 0 {
		return nil
	}

	var sumSq float64
	for _, v := range rec.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w for %q", ErrInvalidEmbedding, rec.ID)
		}
		sumSq += f * f
	}
	if sumSq == 0 {
		return fmt.Errorf("%w for %q", ErrInvalidEmbedding, rec.ID)
	}

	switch {
	case b.Dimensions == 0:
		b.Dimensions = len(rec.Embedding)
	case len(rec.Embedding) != b.Dimensions:
		return fmt.Errorf("%w: %q has %d, expected %d", ErrInconsistentDims, rec.ID, len(rec.Embedding), b.Dimensions)
	}
	return nil
}
