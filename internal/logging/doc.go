// Package logging configures structured slog output for amanrag.
//
// Logs are JSON lines. They go to stderr by default and optionally to a
// size-rotated file under the data directory. The stdio MCP transport must
// never write to stdout, so Setup never does.
package logging
