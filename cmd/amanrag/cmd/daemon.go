package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background query daemon",
		Long: `The daemon keeps the corpus, the keyword index and the embedder loaded
so CLI queries answer without reopening the stores.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and the loaded corpus`,
		Example: `  amanrag daemon start      # Start daemon in background
  amanrag daemon start -f   # Run in foreground (for debugging)
  amanrag daemon status     # Check if daemon is running
  amanrag daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  `Sends SIGTERM to the daemon process for graceful shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonConfig loads the merged config and derives the socket, PID and
// timeout settings from it.
func daemonConfig() (*config.Config, daemon.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, daemon.Config{}, err
	}
	return cfg, daemon.ConfigFrom(cfg), nil
}

// runDaemonStart re-executes this binary with --foreground in a new session
// and waits up to five seconds for its socket to answer.
func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg, dcfg, err := daemonConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(dcfg)
	if client.IsRunning(ctx) {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		return runDaemonForeground(ctx, out, cfg, dcfg)
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"daemon", "start", "--foreground"}
	// The child must resolve the same project config as this process.
	if configDir != "" {
		args = append(args, "--config-dir", configDir)
	}
	bgCmd := exec.Command(execPath, args...)
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice if it dies before the socket is up.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		case <-time.After(100 * time.Millisecond):
		}
		if client.IsRunning(ctx) {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}
	return fmt.Errorf("daemon failed to start within timeout")
}

// runDaemonForeground serves until SIGINT or SIGTERM, logging to the daemon
// log file and stderr.
func runDaemonForeground(ctx context.Context, out *output.Writer, cfg *config.Config, dcfg daemon.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.FilePath = logging.DaemonLogPath()
	logCfg.WriteToStderr = true
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	out.Status("", "Starting daemon in foreground...")
	out.Statusf("", "Socket: %s", dcfg.SocketPath)
	out.Statusf("", "Logs: %s", logCfg.FilePath)
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.NewDaemon(dcfg, cfg, daemon.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("Daemon starting", slog.String("socket", dcfg.SocketPath), slog.Int("pid", os.Getpid()))
	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			out.Status("", "Daemon is already running")
			return nil
		}
		logger.Error("Daemon stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}

// runDaemonStop sends SIGTERM and waits the grace period before falling back
// to SIGKILL.
func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	_, dcfg, err := daemonConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.NewPIDFile(dcfg.PIDPath)
	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	deadline := time.Now().Add(dcfg.ShutdownGracePeriod)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	// A killed daemon cannot remove its own PID file.
	_ = pidFile.Remove()
	out.Success("Daemon killed")
	return nil
}

// runDaemonStatus prints daemon.StatusResult, as is with --json.
func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	_, dcfg, err := daemonConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(dcfg)
	if !client.IsRunning(ctx) {
		if jsonOutput {
			return out.JSON(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'amanrag daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if jsonOutput {
		return out.JSON(status)
	}

	out.Success("Daemon is running")
	out.KeyValue("pid", status.PID)
	out.KeyValue("uptime", status.Uptime)
	out.KeyValue("reloads", status.Reloads)
	out.KeyValue("socket", dcfg.SocketPath)
	if q := status.Queries; q != nil {
		out.KeyValue("queries", fmt.Sprintf("%d (%d filtered, %d empty, %d failed)", q.Total, q.Filtered, q.ZeroResults, q.Failed))
	}
	// Runtime is nil until a corpus has been loaded.
	rs := status.Runtime
	if rs == nil {
		out.Warning("No corpus loaded. Run: amanrag load <bundle.jsonl>")
		return nil
	}
	out.KeyValue("generation", rs.Generation)
	out.KeyValue("chunks", rs.Chunks)
	out.KeyValue("lexical", fmt.Sprintf("%s (%d docs)", rs.LexicalBackend, rs.LexicalDocs))
	if rs.VectorBackend != "" {
		out.KeyValue("vectors", fmt.Sprintf("%s (%d x %d)", rs.VectorBackend, rs.Vectors, rs.Dimensions))
	} else {
		out.KeyValue("vectors", "none")
	}
	embedder := "unavailable"
	if rs.EmbedderReady {
		embedder = "ready"
	}
	if rs.EmbeddingModel != "" {
		embedder = fmt.Sprintf("%s (%s)", rs.EmbeddingModel, embedder)
	}
	out.KeyValue("embedder", embedder)
	return nil
}
