package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/output"
)

type loadOptions struct {
	model      string
	jsonOutput bool
}

// loadSummary is the --json output of load.
type loadSummary struct {
	Chunks     int    `json:"chunks"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Generation int64  `json:"generation"`
	Duration   string `json:"duration"`
	DataDir    string `json:"data_dir"`
}

func newLoadCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load <bundle.jsonl>",
		Short: "Load a corpus bundle",
		Long: `Replace the stored corpus with a JSONL bundle.

Each line is one chunk:
  {"chunk_id": "...", "content": "...", "library": "scipy",
   "category": "hypothesis_test", "function_name": "ttest_ind",
   "title": "...", "metadata": {...}, "embedding": [0.1, ...]}

Embeddings are optional but must all have the same dimension when present.
The bundle is validated before anything is written. A running daemon picks
up the new corpus automatically.`,
		Example: `  amanrag load docs.jsonl
  amanrag load docs.jsonl --model text-embedding-3-small`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model that produced the bundle vectors (default: embeddings.model)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, path string, opts loadOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := commandLogger(cfg)
	defer cleanup()

	model := opts.model
	if model == "" {
		model = cfg.Embeddings.Model
	}

	s := cfg.Storage
	loader := corpus.NewLoader(corpus.Options{
		DataDir:        s.DataDir,
		CorpusBackend:  s.CorpusBackend,
		VectorBackend:  s.VectorBackend,
		PostgresDSN:    s.PostgresDSN,
		VectorMetric:   s.VectorMetric,
		HNSWM:          s.HNSWM,
		HNSWEfSearch:   s.HNSWEfSearch,
		EmbeddingModel: model,
		Logger:         logger,
	})

	logger.Info("load_started", slog.String("bundle", path))
	res, err := loader.Load(ctx, path)
	if err != nil {
		logger.Error("load_failed", slog.String("bundle", path), slog.String("error", err.Error()))
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(loadSummary{
			Chunks:     res.Chunks,
			Vectors:    res.Vectors,
			Dimensions: res.Dimensions,
			Generation: res.Generation,
			Duration:   res.Duration.String(),
			DataDir:    s.DataDir,
		})
	}

	out.Successf("Loaded %d chunks (generation %d)", res.Chunks, res.Generation)
	if res.Vectors > 0 {
		out.Statusf("", "%d vectors, %d dimensions", res.Vectors, res.Dimensions)
	} else {
		out.Status("", "No embeddings: queries will rank on metadata and keywords only")
	}
	out.Statusf("", "Data dir: %s", s.DataDir)
	return nil
}
