package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin wrapper over slog that writes structured lines to stdout.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// With returns a Logger carrying the given key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
