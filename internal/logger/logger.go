package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// New builds the process logger. The handler is selected by LOG_FORMAT
// ("text" by default, "json" for machine-readable output) and the level by
// LOG_LEVEL (debug, info, warn, error). Output always goes to stderr; in
// stdio mode stdout carries the MCP protocol stream.
func New() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
		}))
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
