package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// versionReport is the --json shape: the build info fields at the top level,
// plus the corpus loaded under the configured data dir.
type versionReport struct {
	version.BuildInfo
	Corpus *corpusVersion `json:"corpus,omitempty"`
}

type corpusVersion struct {
	DataDir        string `json:"data_dir"`
	Generation     int64  `json:"generation"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Dimensions     int    `json:"embedding_dimensions,omitempty"`
}

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the build (version, commit, date, Go toolchain) and, when a corpus
has been loaded into the configured data directory, its generation and the
embedding model that produced its vectors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shortOutput {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}

			report := versionReport{BuildInfo: version.GetInfo()}
			if cfg, err := loadConfig(); err == nil {
				report.Corpus = readCorpusVersion(cmd.Context(), cfg.Storage.DataDir)
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(report)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			if c := report.Corpus; c != nil && err == nil {
				out.KeyValue("corpus", fmt.Sprintf("generation %d in %s", c.Generation, c.DataDir))
				if c.EmbeddingModel != "" {
					out.KeyValue("embeddings", fmt.Sprintf("%s (%d dims)", c.EmbeddingModel, c.Dimensions))
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version and corpus info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")

	return cmd
}

// readCorpusVersion returns nil when nothing was loaded. It never creates
// metadata.db.
func readCorpusVersion(ctx context.Context, dataDir string) *corpusVersion {
	gen, err := corpus.ReadGeneration(dataDir)
	if err != nil || gen == 0 {
		return nil
	}
	cv := &corpusVersion{DataDir: dataDir, Generation: gen}

	path := filepath.Join(dataDir, store.MetadataFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cv
	}
	meta, err := store.OpenSQLiteStore(path)
	if err != nil {
		return cv
	}
	defer func() { _ = meta.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	if model, err := meta.GetState(ctx, store.StateKeyEmbeddingModel); err == nil {
		cv.EmbeddingModel = model
	}
	if dims, err := meta.GetState(ctx, store.StateKeyEmbeddingDimension); err == nil {
		cv.Dimensions, _ = strconv.Atoi(dims)
	}
	return cv
}
