// Package telemetry keeps in-process query statistics for the daemon.
// Nothing leaves the process.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "<10ms"
	BucketUnder50ms  LatencyBucket = "<50ms"
	BucketUnder250ms LatencyBucket = "<250ms"
	BucketUnder1s    LatencyBucket = "<1s"
	BucketOver1s     LatencyBucket = ">=1s"
)

// BucketFor returns the histogram bucket for d.
func BucketFor(d time.Duration) LatencyBucket {
	switch {
	case d < 10*time.Millisecond:
		return BucketUnder10ms
	case d < 50*time.Millisecond:
		return BucketUnder50ms
	case d < 250*time.Millisecond:
		return BucketUnder250ms
	case d < time.Second:
		return BucketUnder1s
	default:
		return BucketOver1s
	}
}

// QueryEvent is one finished retrieval request.
type QueryEvent struct {
	Query string

	// Filtered is true when the caller passed explicit metadata filters.
	Filtered bool

	Results int
	Latency time.Duration
	Failed  bool
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total       int64                   `json:"total"`
	Filtered    int64                   `json:"filtered"`
	Failed      int64                   `json:"failed"`
	ZeroResults int64                   `json:"zero_results"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	TopTerms    []TermCount             `json:"top_terms,omitempty"`

	// RecentMisses are the latest queries that returned nothing.
	RecentMisses []string  `json:"recent_misses,omitempty"`
	Since        time.Time `json:"since"`
}

// Options sizes the bounded structures of a Recorder.
type Options struct {
	TermCapacity int
	MissCapacity int
	TopTerms     int
}

// DefaultOptions returns the default sizes.
func DefaultOptions() Options {
	return Options{TermCapacity: 200, MissCapacity: 20, TopTerms: 10}
}

// Recorder aggregates query events. Safe for concurrent use.
type Recorder struct {
	opts Options

	mu       sync.Mutex
	total    int64
	filtered int64
	failed   int64
	zero     int64
	latency  map[LatencyBucket]int64
	terms    *lru.Cache[string, int64]
	misses   *Ring[string]
	since    time.Time
}

// NewRecorder creates a recorder. Zero fields in opts take their defaults.
func NewRecorder(opts Options) *Recorder {
	def := DefaultOptions()
	if opts.TermCapacity <= 0 {
		opts.TermCapacity = def.TermCapacity
	}
	if opts.MissCapacity <= 0 {
		opts.MissCapacity = def.MissCapacity
	}
	if opts.TopTerms <= 0 {
		opts.TopTerms = def.TopTerms
	}
	terms, _ := lru.New[string, int64](opts.TermCapacity)
	return &Recorder{
		opts:    opts,
		latency: make(map[LatencyBucket]int64),
		terms:   terms,
		misses:  NewRing[string](opts.MissCapacity),
		since:   time.Now(),
	}
}

// Record adds one event.
func (r *Recorder) Record(e QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.latency[BucketFor(e.Latency)]++
	if e.Filtered {
		r.filtered++
	}
	if e.Failed {
		r.failed++
		return
	}
	for _, term := range Terms(e.Query) {
		n, _ := r.terms.Peek(term)
		r.terms.Add(term, n+1)
	}
	if e.Results == 0 {
		r.zero++
		r.misses.Push(strings.TrimSpace(e.Query))
	}
}

// Snapshot copies the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Total:        r.total,
		Filtered:     r.filtered,
		Failed:       r.failed,
		ZeroResults:  r.zero,
		Latency:      make(map[LatencyBucket]int64, len(r.latency)),
		RecentMisses: r.misses.Items(),
		Since:        r.since,
	}
	for k, v := range r.latency {
		s.Latency[k] = v
	}

	for _, term := range r.terms.Keys() {
		if n, ok := r.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	sort.SliceStable(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	if len(s.TopTerms) > r.opts.TopTerms {
		s.TopTerms = s.TopTerms[:r.opts.TopTerms]
	}
	return s
}

// Terms lowercases query and returns its alphanumeric words of three or more runes.
func Terms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var out []string
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			out = append(out, w)
		}
	}
	return out
}
