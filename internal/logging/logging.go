package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr mirrors every record to stderr.
	WriteToStderr bool
}

// DefaultConfig returns stderr-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for --debug runs: debug level, written
// to <dataDir>/logs/amanrag.log as well as stderr.
func DebugConfig(dataDir string) Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = LogPath(dataDir)
	return cfg
}

// StdioConfig returns file-only logging for the stdio MCP transport.
func StdioConfig(dataDir, level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.FilePath = LogPath(dataDir)
	cfg.WriteToStderr = false
	return cfg
}

// LogPath returns the log file location inside a data directory.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "amanrag.log")
}

// Setup builds a JSON slog logger and returns a cleanup function that
// flushes and closes the log file, if any.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = 10
		}
		if cfg.MaxFiles <= 0 {
			cfg.MaxFiles = 5
		}
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, writer)
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var output io.Writer
	switch len(writers) {
	case 0:
		output = io.Discard
	case 1:
		output = writers[0]
	default:
		output = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
