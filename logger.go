package modlife

import (
	"log/slog"
	"os"
)

// Logger defines the interface for lifecycle manager logging.
// Structured key-value pairs keep log output consistent and parseable:
//
//	logger.Info("Module loaded", "module", "cache", "version", "1.2.3")
//
// The interface is compatible with slog, logrus, zap and similar libraries.
// Every component accepts a Logger; passing nil selects the default
// slog-backed logger writing to stderr.
type Logger interface {
	// Debug logs detailed diagnostic information, typically disabled in
	// production.
	Debug(msg string, args ...any)

	// Info logs normal lifecycle events such as registrations and loads.
	Info(msg string, args ...any)

	// Warn logs unusual conditions that do not prevent operation, such as
	// missing optional dependencies.
	Warn(msg string, args ...any)

	// Error logs failures worth operator attention.
	Error(msg string, args ...any)
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an existing slog.Logger as a Logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return &slogLogger{logger: logger}
}

// DefaultLogger returns a text-handler slog logger writing to stderr.
func DefaultLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// ensureLogger substitutes the default logger for nil.
func ensureLogger(logger Logger) Logger {
	if logger == nil {
		return DefaultLogger()
	}
	return logger
}
