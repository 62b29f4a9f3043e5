package segmerge

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with segmerge-specific context.
// Components log with consistent field names: "segment", "seq", "merge".
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(id SegmentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", uint64(id)),
	}
}

// WithSeq adds the submission sequence number of a merge.
func (l *Logger) WithSeq(seq uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("seq", seq),
	}
}

// LogFlush logs a flush.
func (l *Logger) LogFlush(ctx context.Context, seg Segment, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush completed",
		"segment", seg.String(),
		"bytes", seg.SizeBytes,
	)
}

// LogForceMerge logs the outcome of a force merge.
func (l *Logger) LogForceMerge(ctx context.Context, maxSegmentCount, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "force merge failed",
			"max_segments", maxSegmentCount,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "force merge completed",
		"max_segments", maxSegmentCount,
		"segments", segments,
	)
}
