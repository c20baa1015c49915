package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.amanrag/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "logs")
	}
	return filepath.Join(home, ".amanrag", "logs")
}

// DefaultLogPath returns the log path for the CLI and MCP server.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// DaemonLogPath returns the log path for the background daemon.
func DaemonLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// FindLogFile returns explicit if it exists, otherwise the default server log.
func FindLogFile(explicit string) (string, error) {
	candidates := []string{DefaultLogPath(), DaemonLogPath()}
	if explicit != "" {
		candidates = []string{explicit}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no log file found (checked %v); run a command with --debug first", candidates)
}
