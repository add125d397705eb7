package logger

import (
	"log/slog"
	"os"
)

var defaultLogger *slog.Logger

// Init initializes the global structured logger and returns it. Components
// take the returned *slog.Logger; the package-level helpers exist for code
// without an injected logger.
func Init(level slog.Level, format string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// Get returns the default logger
func Get() *slog.Logger {
	if defaultLogger == nil {
		return Init(slog.LevelInfo, "text")
	}
	return defaultLogger
}

// Info logs at Info level
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Error logs at Error level
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Warn logs at Warn level
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Debug logs at Debug level
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
