package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_KeepsLastItemsInOrder(t *testing.T) {
	r := NewRing[string](3)
	assert.Empty(t, r.Items())

	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"a", "b"}, r.Items())
	assert.Equal(t, 2, r.Len())

	r.Push("c")
	r.Push("d")
	r.Push("e")
	assert.Equal(t, []string{"c", "d", "e"}, r.Items())
	assert.Equal(t, 3, r.Len())
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := NewRing[int](0)
	for i := 0; i < 150; i++ {
		r.Push(i)
	}
	items := r.Items()
	require.Len(t, items, 100)
	assert.Equal(t, 50, items[0])
	assert.Equal(t, 149, items[99])
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{0, BucketUnder10ms},
		{9 * time.Millisecond, BucketUnder10ms},
		{10 * time.Millisecond, BucketUnder50ms},
		{100 * time.Millisecond, BucketUnder250ms},
		{250 * time.Millisecond, BucketUnder1s},
		{time.Second, BucketOver1s},
		{30 * time.Second, BucketOver1s},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, BucketFor(tt.d))
		})
	}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"scipy"}, Terms("scipy"))
	assert.Equal(t, []string{"two", "sample", "test", "ttest_ind"}, Terms("Two-sample T test: ttest_ind()"))
	assert.Nil(t, Terms("  a an  "))
}

func TestRecorder_Record(t *testing.T) {
	// Given: a recorder
	r := NewRecorder(Options{})

	// When: recording a hit, a filtered miss and a failure
	r.Record(QueryEvent{Query: "mean of array", Results: 3, Latency: 5 * time.Millisecond})
	r.Record(QueryEvent{Query: "anova table", Filtered: true, Latency: 60 * time.Millisecond})
	r.Record(QueryEvent{Query: "mean", Failed: true, Latency: 2 * time.Second})

	// Then: every counter reflects the events
	s := r.Snapshot()
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(1), s.Filtered)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.ZeroResults)
	assert.Equal(t, []string{"anova table"}, s.RecentMisses)
	assert.Equal(t, int64(1), s.Latency[BucketUnder10ms])
	assert.Equal(t, int64(1), s.Latency[BucketUnder250ms])
	assert.Equal(t, int64(1), s.Latency[BucketOver1s])
	assert.False(t, s.Since.IsZero())
}

func TestRecorder_TopTermsSortedAndCapped(t *testing.T) {
	r := NewRecorder(Options{TopTerms: 2})

	r.Record(QueryEvent{Query: "mean median", Results: 1})
	r.Record(QueryEvent{Query: "mean", Results: 1})
	r.Record(QueryEvent{Query: "variance mean median", Results: 1})

	s := r.Snapshot()
	assert.Equal(t, []TermCount{{Term: "mean", Count: 3}, {Term: "median", Count: 2}}, s.TopTerms)
}

func TestRecorder_FailedQueriesDoNotCountTerms(t *testing.T) {
	r := NewRecorder(Options{})

	r.Record(QueryEvent{Query: "pearson", Failed: true})

	s := r.Snapshot()
	assert.Empty(t, s.TopTerms)
	assert.Equal(t, int64(0), s.ZeroResults)
}

func TestRecorder_TermCapacityEvictsLeastRecent(t *testing.T) {
	r := NewRecorder(Options{TermCapacity: 2, TopTerms: 5})

	r.Record(QueryEvent{Query: "alpha", Results: 1})
	r.Record(QueryEvent{Query: "beta", Results: 1})
	r.Record(QueryEvent{Query: "gamma", Results: 1})

	var terms []string
	for _, tc := range r.Snapshot().TopTerms {
		terms = append(terms, tc.Term)
	}
	assert.ElementsMatch(t, []string{"beta", "gamma"}, terms)
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record(QueryEvent{Query: fmt.Sprintf("query %d", i), Results: j % 2})
				_ = r.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	s := r.Snapshot()
	assert.Equal(t, int64(400), s.Total)
	assert.Equal(t, int64(200), s.ZeroResults)
}
