// Package logging wraps slog with the field names used across the harness.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with benchmark-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewText creates a Logger that outputs human-readable text logs.
func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON creates a Logger that outputs JSON-formatted logs.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// FromConfig builds a logger writing to stderr from a level and format name.
func FromConfig(level, format string) *Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "json") {
		return NewJSON(os.Stderr, lvl)
	}
	return NewText(os.Stderr, lvl)
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Noop creates a Logger that discards all output.
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithWorker tags the logger with a worker identity.
func (l *Logger) WithWorker(worker string) *Logger {
	return &Logger{Logger: l.Logger.With("worker", worker)}
}

// WithPhase tags the logger with a benchmark phase.
func (l *Logger) WithPhase(phase string) *Logger {
	return &Logger{Logger: l.Logger.With("phase", phase)}
}

// WithFile tags the logger with a file name.
func (l *Logger) WithFile(name string) *Logger {
	return &Logger{Logger: l.Logger.With("file", name)}
}

// LogWrite logs a failed record write. Successful writes are not logged.
func (l *Logger) LogWrite(ctx context.Context, offset uint64, written int, err error) {
	if err == nil {
		return
	}
	l.ErrorContext(ctx, "write failed, stopping worker",
		"offset", offset,
		"records_written", written,
		"error", err,
	)
}

// LogVerify logs the outcome of a sequential verification pass.
func (l *Logger) LogVerify(ctx context.Context, finalOffset uint64, blocks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "verification aborted",
			"final_offset", finalOffset,
			"blocks_checked", blocks,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "verification completed",
			"final_offset", finalOffset,
			"blocks_checked", blocks,
		)
	}
}

// LogPhase logs the aggregate throughput of a finished benchmark phase.
func (l *Logger) LogPhase(ctx context.Context, phase string, ops int64, bytes int64, elapsed time.Duration) {
	secs := elapsed.Seconds()
	var opsPerSec, mbPerSec float64
	if secs > 0 {
		opsPerSec = float64(ops) / secs
		mbPerSec = float64(bytes) / secs / (1 << 20)
	}
	l.InfoContext(ctx, "phase completed",
		"phase", phase,
		"ops", ops,
		"bytes", bytes,
		"elapsed", elapsed,
		"ops_per_sec", opsPerSec,
		"mib_per_sec", mbPerSec,
	)
}
