// Package logging sets up structured slog logging for amanrag.
//
// Logs are JSON lines written to a size-rotated file under ~/.amanrag/logs/,
// optionally teed to stderr. Stdio-serving commands (the MCP server) must
// never write to stdout or stderr, so they log to the file only.
package logging
