package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/daemon"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/runtime"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	library      string
	category     string
	functionName string
	topK         int
	format       string // "text", "json"
	explain      bool
	local        bool // bypass the daemon
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the loaded corpus",
		Long: `Rank documentation chunks for a question.

Without filters, library and category are inferred from the question.
Any of --library, --category or --function turns inference off.

The running daemon answers the query when there is one; otherwise the
corpus is opened locally.`,
		Example: `  amanrag query "how do I run a two sample t-test"
  amanrag query "correlation" --library scipy --top-k 3
  amanrag query "rolling mean" --format json
  amanrag query "anova" --explain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var topK *int
			if cmd.Flags().Changed("top-k") {
				topK = &opts.topK
			}
			err := runQuery(cmd.Context(), cmd, strings.Join(args, " "), topK, opts)
			if err != nil && opts.format == "json" {
				return reportJSONError(cmd, err)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.library, "library", "", "Restrict to one library (e.g. scipy)")
	cmd.Flags().StringVar(&opts.category, "category", "", "Restrict to one category (e.g. correlation)")
	cmd.Flags().StringVar(&opts.functionName, "function", "", "Restrict to functions whose name contains this text")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 5, "Maximum number of results (default: retrieval.default_top_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show what each stage kept")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force a local query (bypass daemon)")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text string, topK *int, opts queryOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return amerrors.ValidationError(fmt.Sprintf("invalid format %q", opts.format), nil).
			WithSuggestion("Use --format text or --format json")
	}
	params := daemon.QueryParams{
		Query:        text,
		Library:      opts.library,
		Category:     opts.category,
		FunctionName: opts.functionName,
		TopK:         topK,
		Explain:      opts.explain,
	}
	if err := params.Validate(); err != nil {
		return amerrors.ValidationError(err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := commandLogger(cfg)
	defer cleanup()

	logger.Info("query_started", slog.String("query", text), slog.Bool("local", opts.local))

	var res *daemon.QueryResult
	if !opts.local {
		client := daemon.NewClient(daemon.ConfigFrom(cfg))
		if client.IsRunning(ctx) {
			res, err = client.Query(ctx, params)
			if err != nil {
				logger.Warn("Daemon query failed, falling back to local", slog.String("error", err.Error()))
				res = nil
			} else {
				logger.Info("query_complete", slog.String("mode", "daemon"), slog.Int("results", len(res.Results)))
			}
		}
	}
	if res == nil {
		res, err = localQuery(ctx, cfg, params, logger)
		if err != nil {
			return err
		}
		logger.Info("query_complete", slog.String("mode", "local"), slog.Int("results", len(res.Results)))
	}

	return renderQuery(cmd, text, res, opts.format)
}

// localQuery opens the corpus in-process and answers params.
func localQuery(ctx context.Context, cfg *config.Config, params daemon.QueryParams, logger *slog.Logger) (*daemon.QueryResult, error) {
	rt, err := runtime.Open(ctx, cfg, runtime.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rt.Close() }()

	topK := rt.Engine.DefaultTopK()
	if params.TopK != nil {
		topK = *params.TopK
	}

	res := &daemon.QueryResult{Generation: rt.Generation}
	if params.Explain {
		res.Explanation, err = rt.Engine.Explain(ctx, params.Query, params.Filters(), topK)
		if err != nil {
			return nil, err
		}
		res.Results = res.Explanation.Results
		return res, nil
	}
	res.Results, err = rt.Engine.Query(ctx, params.Query, params.Filters(), topK)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// reportJSONError writes err as a JSON object to stdout so --format json
// output stays machine-readable on failure.
func reportJSONError(cmd *cobra.Command, err error) error {
	data, jerr := amerrors.FormatJSON(err)
	if jerr != nil {
		return err
	}
	if _, werr := fmt.Fprintln(cmd.OutOrStdout(), string(data)); werr != nil {
		return err
	}
	return reportedError{err}
}

func renderQuery(cmd *cobra.Command, text string, res *daemon.QueryResult, format string) error {
	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(res)
	}
	if res.Explanation != nil {
		out.Explain(res.Explanation)
		return nil
	}
	out.Results(text, res.Results)
	return nil
}
