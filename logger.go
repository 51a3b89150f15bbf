package bookbrain

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with knowledge-base specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithBookID adds a book_id field to the logger.
func (l *Logger) WithBookID(id int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("book_id", id),
	}
}

// LogAddBook logs an add-book operation.
func (l *Logger) LogAddBook(ctx context.Context, bookID int64, chunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add book failed",
			"book_id", bookID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "book added",
			"book_id", bookID,
			"chunks", chunks,
		)
	}
}

// LogRemoveBook logs a remove-book operation.
func (l *Logger) LogRemoveBook(ctx context.Context, bookID int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove book failed",
			"book_id", bookID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "book removed",
			"book_id", bookID,
		)
	}
}

// LogRebuild logs a rebuild operation.
func (l *Logger) LogRebuild(ctx context.Context, books, skipped, chunks int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "rebuild failed",
			"books", books,
			"error", err,
		)
	case skipped > 0:
		l.WarnContext(ctx, "rebuild completed with skipped books",
			"books", books,
			"skipped", skipped,
			"chunks", chunks,
		)
	default:
		l.InfoContext(ctx, "rebuild completed",
			"books", books,
			"chunks", chunks,
		)
	}
}

// LogBookSkipped logs a book that a rebuild could not include.
func (l *Logger) LogBookSkipped(ctx context.Context, bookID int64, err error) {
	l.WarnContext(ctx, "book skipped",
		"book_id", bookID,
		"error", err,
	)
}

// LogSearch logs a retrieval operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogQuarantine logs an index quarantine event.
func (l *Logger) LogQuarantine(ctx context.Context, backupPath string, cause error) {
	l.WarnContext(ctx, "index quarantined, starting fresh; past data preserved for inspection",
		"backup_path", backupPath,
		"cause", cause,
	)
}

// LogDegraded logs that the embedding provider is running in fallback mode.
func (l *Logger) LogDegraded(ctx context.Context, model string) {
	l.WarnContext(ctx, "embedding provider degraded, using deterministic fallback vectors",
		"model", model,
	)
}
