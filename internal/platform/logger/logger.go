// Package logger configures the application's structured logging.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds a JSON slog logger at the configured level and installs
// it as the process default. Unknown levels fall back to info.
func Setup(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)

	if !knownLevel(level) {
		log.Warn("unknown log level, using info", "configured_level", level)
	}
	return log
}

func knownLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}
