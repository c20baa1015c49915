// Package daemon keeps a query runtime warm behind a Unix socket so CLI
// queries skip store loading and lexical index rebuilds. The daemon reopens
// its runtime whenever a load publishes a new corpus generation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.amanrag/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.amanrag/daemon.pid
	PIDPath string

	// Timeout bounds one client request, including the query itself.
	// Default: 60s
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home := config.HomeDir()
	return Config{
		SocketPath:          filepath.Join(home, "daemon.sock"),
		PIDPath:             filepath.Join(home, "daemon.pid"),
		Timeout:             60 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// ConfigFrom takes socket and PID paths from the server section of cfg.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.Server.SocketPath != "" {
		c.SocketPath = cfg.Server.SocketPath
	}
	if cfg.Server.PIDPath != "" {
		c.PIDPath = cfg.Server.PIDPath
	}
	return c
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
