package voxcache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hupe1980/voxcache/pixel"
)

// Logger wraps slog.Logger with voxcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// FileLogConfig configures a rotating log file.
type FileLogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	JSON       bool
	Level      slog.Level
}

// NewFileLogger creates a Logger writing to a size-rotated file.
// The returned closer flushes and closes the current log file.
func NewFileLogger(cfg FileLogConfig) (*Logger, io.Closer) {
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}, w
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSource adds the source name to the logger.
func (l *Logger) WithSource(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("source", name),
	}
}

// WithType adds a pixel type field.
func (l *Logger) WithType(t pixel.Type) *Logger {
	return &Logger{
		Logger: l.Logger.With("type", t.String()),
	}
}

// WithPath adds a path field.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogSliceRead logs one slice task.
func (l *Logger) LogSliceRead(ctx context.Context, source string, index int, t pixel.Type, d time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "slice read failed",
			"source", source,
			"slice", index,
			"type", t.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "slice read",
		"source", source,
		"slice", index,
		"type", t.String(),
		"duration", d,
	)
}

// LogMaterialize logs the construction of an in-memory image.
func (l *Logger) LogMaterialize(ctx context.Context, source string, t pixel.Type, slices int, bytes int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "materialize failed",
			"source", source,
			"type", t.String(),
			"slices", slices,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "image materialized",
		"source", source,
		"type", t.String(),
		"slices", slices,
		"size", humanize.IBytes(uint64(max(bytes, 0))),
		"duration", d,
	)
}

// LogCacheLoad logs a path cache lookup.
func (l *Logger) LogCacheLoad(ctx context.Context, path string, hit bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "image load failed",
			"path", path,
			"error", err,
		)
	case hit:
		l.DebugContext(ctx, "image cache hit",
			"path", path,
		)
	default:
		l.InfoContext(ctx, "image loaded",
			"path", path,
		)
	}
}

// LogEvict logs the removal of a cached image.
func (l *Logger) LogEvict(ctx context.Context, path string, found bool) {
	l.DebugContext(ctx, "image evicted",
		"path", path,
		"found", found,
	)
}

// LogShutdown logs a scheduler shutdown.
func (l *Logger) LogShutdown(ctx context.Context, cancelPending bool, pending int) {
	l.InfoContext(ctx, "scheduler shutdown",
		"cancel_pending", cancelPending,
		"pending", pending,
	)
}
