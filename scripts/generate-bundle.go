//go:build ignore

// Command generate-bundle writes a synthetic corpus bundle for load and
// latency testing.
// Usage: go run scripts/generate-bundle.go -chunks 5000 -embed -output testdata/bench.jsonl
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

var (
	numChunks = flag.Int("chunks", 1000, "Number of chunks to generate")
	output    = flag.String("output", "testdata/bench.jsonl", "Output bundle path")
	withEmbed = flag.Bool("embed", false, "Attach static embeddings")
	dims      = flag.Int("dims", embed.StaticDimensions, "Embedding dimensions when -embed is set")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var libraries = map[string][]string{
	"scipy":       {"ttest_ind", "mannwhitneyu", "pearsonr", "spearmanr", "chi2_contingency", "f_oneway", "kstest"},
	"numpy":       {"mean", "median", "std", "var", "percentile", "histogram", "corrcoef"},
	"pandas":      {"describe", "groupby", "pivot_table", "rolling", "resample", "merge", "value_counts"},
	"statsmodels": {"ols", "logit", "adfuller", "acf", "seasonal_decompose", "anova_lm", "arima"},
	"sklearn":     {"train_test_split", "cross_val_score", "StandardScaler", "PCA", "KMeans", "LinearRegression"},
}

var categories = []string{"hypothesis_testing", "descriptive", "regression", "time_series", "clustering", "preprocessing"}

var phrases = []string{
	"Compute the statistic for two independent samples",
	"Returns a named tuple with the statistic and p-value",
	"Handles missing values according to nan_policy",
	"Works along the given axis of the input array",
	"Assumes the samples are drawn from normal distributions",
	"Use this to compare the central tendency of groups",
	"The result is sensitive to outliers in small samples",
	"Accepts array-like input and returns a float",
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)

	var embedder *embed.StaticEmbedder
	if *withEmbed {
		embedder = embed.NewStaticEmbedder(*dims)
		defer func() { _ = embedder.Close() }()
	}

	libNames := make([]string, 0, len(libraries))
	for lib := range libraries {
		libNames = append(libNames, lib)
	}
	// map order is random; keep output reproducible
	sort.Strings(libNames)

	enc := json.NewEncoder(w)
	for i := 0; i < *numChunks; i++ {
		lib := libNames[rng.Intn(len(libNames))]
		fns := libraries[lib]
		fn := fns[rng.Intn(len(fns))]

		var body strings.Builder
		fmt.Fprintf(&body, "%s.%s\n\n", lib, fn)
		for j := 0; j < 3+rng.Intn(4); j++ {
			body.WriteString(phrases[rng.Intn(len(phrases))])
			body.WriteString(". ")
		}

		rec := corpus.Record{Chunk: store.Chunk{
			ID:           fmt.Sprintf("%s-%s-%05d", lib, fn, i),
			Content:      body.String(),
			Library:      lib,
			Category:     categories[rng.Intn(len(categories))],
			FunctionName: fn,
			Title:        fmt.Sprintf("%s.%s", lib, fn),
		}}
		if embedder != nil {
			vec, err := embedder.Embed(context.Background(), rec.Content)
			if err != nil {
				return fmt.Errorf("embed %s: %w", rec.ID, err)
			}
			rec.Embedding = vec
		}
		if err := enc.Encode(&rec); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d chunks to %s\n", *numChunks, *output)
	return nil
}
