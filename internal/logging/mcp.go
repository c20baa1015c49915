package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for the stdio MCP server.
// stdout carries JSON-RPC exclusively and clients treat stderr noise as a
// failure, so logs go to the server log file only.
func SetupMCPMode(level string) (func(), error) {
	if level == "" {
		level = "info"
	}
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	cleanup, err := SetupDefault(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}
