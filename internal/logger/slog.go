// Package logger provides the process-wide structured logger shared by
// siesworker, siesd, and siesctl. It wraps log/slog with a JSON or text
// handler selectable at startup, plus printf-style convenience wrappers
// (Info/Warn/Error/Debug) so call sites that predate the migration to slog
// don't need to be rewritten to the key/value form one at a time.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// Init initializes the global structured logger. If jsonOutput is true logs
// are emitted as JSON (for production / log-aggregator consumption);
// otherwise a human-readable text handler is used (for siesctl's
// interactive REPL). Logs are written to both stdout and a dated file under
// logDir.
func Init(logDir string, jsonOutput bool) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	logFileName := "sies-" + time.Now().Format("2006-01-02") + ".log"
	logFilePath := filepath.Join(logDir, logFileName)

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	writer := io.MultiWriter(os.Stdout, logFile)

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)
	return nil
}

// Close closes the log file opened by Init. Safe to call even if Init was
// never called or logging only ever went to the default (stderr) handler.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the active *slog.Logger, falling back to slog.Default() when
// Init has not been called (e.g. in unit tests).
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

type contextKey string

const (
	ContextKeySessionID   contextKey = "session_id"
	ContextKeyExecutionID contextKey = "execution_id"
)

// WithContext returns a logger carrying whatever correlation fields are
// present on ctx (session_id, execution_id), so a single log line can be
// grep'd by either without every call site threading them through args.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	if sessionID := ctx.Value(ContextKeySessionID); sessionID != nil {
		l = l.With("session_id", sessionID)
	}
	if executionID := ctx.Value(ContextKeyExecutionID); executionID != nil {
		l = l.With("execution_id", executionID)
	}
	return l
}

// Info logs a printf-formatted informational message.
func Info(format string, v ...any) { Slog().Info(fmt.Sprintf(format, v...)) }

// Warn logs a printf-formatted warning.
func Warn(format string, v ...any) { Slog().Warn(fmt.Sprintf(format, v...)) }

// Error logs a printf-formatted error.
func Error(format string, v ...any) { Slog().Error(fmt.Sprintf(format, v...)) }

// Debug logs a printf-formatted debug message.
func Debug(format string, v ...any) { Slog().Debug(fmt.Sprintf(format, v...)) }

// InfoContext logs a structured informational message carrying whatever
// correlation fields ctx holds (session_id, execution_id).
func InfoContext(ctx context.Context, msg string, args ...any) { WithContext(ctx).Info(msg, args...) }

// WarnContext logs a structured warning carrying ctx's correlation fields.
func WarnContext(ctx context.Context, msg string, args ...any) { WithContext(ctx).Warn(msg, args...) }

// ErrorContext logs a structured error carrying ctx's correlation fields.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// DebugContext logs a structured debug message carrying ctx's correlation fields.
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
