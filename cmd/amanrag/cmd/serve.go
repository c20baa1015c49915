package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server for AI clients.

Tools:
  retrieve          rank documentation chunks for a question
  retrieval_status  report the loaded corpus

stdout carries JSON-RPC only; logs go to ~/.amanrag/logs/server.log.
The server reloads automatically after 'amanrag load'.`,
		Example: `  # Claude Code / Cursor MCP configuration
  {"command": "amanrag", "args": ["serve"]}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !debugMode {
				cleanup, err := logging.SetupMCPMode(cfg.Server.LogLevel)
				if err != nil {
					return fmt.Errorf("failed to setup logging: %w", err)
				}
				defer cleanup()
			}
			return runServe(ctx, cfg, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")

	return cmd
}

// runServe answers MCP tool calls from a hot-reloading daemon backend.
// Nothing may be written to stdout before the transport starts.
func runServe(ctx context.Context, cfg *config.Config, transport string) error {
	logger := slog.Default()

	d, err := daemon.NewDaemon(daemon.ConfigFrom(cfg), cfg, daemon.WithLogger(logger))
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer(d, logger)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		d.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	return srv.Serve(ctx, transport)
}
