package env

import (
	"log/slog"
	"strings"
)

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel reads the LOG_LEVEL environment variable and returns the
// matching slog.Level, or fallback when the variable is empty or not a
// known level name.
func ParseLogLevel(fallback slog.Level) slog.Level {
	if level, ok := logLevels[strings.ToLower(Get("LOG_LEVEL", ""))]; ok {
		return level
	}
	return fallback
}
