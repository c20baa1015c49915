// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Persistent flags
var (
	debugMode bool
	configDir string

	loggingCleanup func()
)

// Profiling flags
var (
	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid retrieval over statistics library documentation",
		Long: `amanrag answers questions about statistics and data science library
functions by ranking documentation chunks in four stages: metadata filter,
keyword (BM25) ranking, embedding similarity and weighted fusion.

Load a corpus bundle once, then query it from the CLI, the daemon or an
MCP client.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding .amanrag.yaml and .env (default: current directory)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// reportedError marks an error a command has already shown to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// IsReported reports whether err was already written by the failing command,
// in which case the caller should only set the exit status.
func IsReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// startProfilingAndLogging loads .env, starts any requested profiles and,
// with --debug, installs the debug file logger.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if err := loadDotEnv(projectDir()); err != nil {
		return err
	}

	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profiler = s
	}

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profiler.Stop()
	profiler = nil

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// loadDotEnv reads dir/.env if present. Variables already set win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// projectDir is --config-dir or the working directory.
func projectDir() string {
	if configDir != "" {
		return config.ExpandHome(configDir)
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func loadConfig() (*config.Config, error) {
	return config.Load(projectDir())
}

// commandLogger returns the logger for a one-shot command: the debug logger
// when --debug is set, otherwise a file-only logger at the configured level.
func commandLogger(cfg *config.Config) (*slog.Logger, func()) {
	if debugMode {
		return slog.Default(), func() {}
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.WriteToStderr = false
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return logging.Discard(), func() {}
	}
	return logger, cleanup
}
