package bookbrain

import (
	"log/slog"

	"github.com/jrgochan/bookbrain/chunk"
	"github.com/jrgochan/bookbrain/codec"
	"github.com/jrgochan/bookbrain/index"
)

// DefaultEmbedConcurrency bounds parallel embedding calls during AddBook and
// Rebuild.
const DefaultEmbedConcurrency = 4

// ProgressFunc receives coarse progress milestones from long-running
// operations. current counts completed units out of total; message is a
// human-readable status line.
type ProgressFunc func(current, total int, message string)

type options struct {
	chunkSize        int
	chunkOverlap     int
	chunkMode        chunk.Mode
	embedConcurrency int
	codec            codec.Codec
	compression      index.Compression
	metricsCollector MetricsCollector
	logger           *Logger
	progress         ProgressFunc
}

// Option configures KnowledgeBase constructor behavior.
type Option func(*options)

// WithChunking configures the chunk size and overlap used when splitting
// book text. overlap must be smaller than size; New reports a violation as
// a configuration error.
func WithChunking(size, overlap int) Option {
	return func(o *options) {
		o.chunkSize = size
		o.chunkOverlap = overlap
	}
}

// WithChunkMode selects the boundary strategy for splitting.
func WithChunkMode(mode chunk.Mode) Option {
	return func(o *options) {
		o.chunkMode = mode
	}
}

// WithEmbedConcurrency bounds the number of concurrent embedding calls
// during AddBook and Rebuild. Values below 1 are treated as 1.
func WithEmbedConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.embedConcurrency = n
	}
}

// WithCodec configures the codec used for encoding index snapshots.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression selects the snapshot compression.
func WithCompression(c index.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithProgress registers a callback invoked at per-book milestones during
// AddBook, RemoveBook and Rebuild.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		chunkSize:        chunk.DefaultChunkSize,
		chunkOverlap:     chunk.DefaultOverlap,
		chunkMode:        chunk.ModeParagraph,
		embedConcurrency: DefaultEmbedConcurrency,
		codec:            codec.Default,
		compression:      index.CompressionZstd,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
