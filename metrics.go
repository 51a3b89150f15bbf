package bookbrain

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAddBook is called after each add-book operation.
	// duration is the total time taken, err is nil if successful.
	RecordAddBook(duration time.Duration, err error)

	// RecordRemoveBook is called after each remove-book operation.
	RecordRemoveBook(duration time.Duration, err error)

	// RecordRebuild is called after each rebuild operation.
	// books is the number of books requested, skipped is the number that
	// could not be included, duration is the total time taken.
	RecordRebuild(books, skipped int, duration time.Duration)

	// RecordSearch is called after each retrieval operation.
	// k is the number of results requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(k int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddBook(time.Duration, error)    {}
func (NoopMetricsCollector) RecordRemoveBook(time.Duration, error) {}
func (NoopMetricsCollector) RecordRebuild(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {
}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddBookCount     atomic.Int64
	AddBookErrors    atomic.Int64
	AddBookNanos     atomic.Int64
	RemoveBookCount  atomic.Int64
	RemoveBookErrors atomic.Int64
	RemoveBookNanos  atomic.Int64
	RebuildCount     atomic.Int64
	RebuildBooks     atomic.Int64
	RebuildSkipped   atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchNanos      atomic.Int64
}

// RecordAddBook implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddBook(duration time.Duration, err error) {
	b.AddBookCount.Add(1)
	b.AddBookNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddBookErrors.Add(1)
	}
}

// RecordRemoveBook implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemoveBook(duration time.Duration, err error) {
	b.RemoveBookCount.Add(1)
	b.RemoveBookNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RemoveBookErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(books, skipped int, duration time.Duration) {
	b.RebuildCount.Add(1)
	b.RebuildBooks.Add(int64(books))
	b.RebuildSkipped.Add(int64(skipped))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddBookCount:       b.AddBookCount.Load(),
		AddBookErrors:      b.AddBookErrors.Load(),
		AddBookAvgNanos:    avgNanos(&b.AddBookCount, &b.AddBookNanos),
		RemoveBookCount:    b.RemoveBookCount.Load(),
		RemoveBookErrors:   b.RemoveBookErrors.Load(),
		RemoveBookAvgNanos: avgNanos(&b.RemoveBookCount, &b.RemoveBookNanos),
		RebuildCount:       b.RebuildCount.Load(),
		RebuildBooks:       b.RebuildBooks.Load(),
		RebuildSkipped:     b.RebuildSkipped.Load(),
		SearchCount:        b.SearchCount.Load(),
		SearchErrors:       b.SearchErrors.Load(),
		SearchAvgNanos:     avgNanos(&b.SearchCount, &b.SearchNanos),
	}
}

func avgNanos(count, total *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddBookCount       int64
	AddBookErrors      int64
	AddBookAvgNanos    int64
	RemoveBookCount    int64
	RemoveBookErrors   int64
	RemoveBookAvgNanos int64
	RebuildCount       int64
	RebuildBooks       int64
	RebuildSkipped     int64
	SearchCount        int64
	SearchErrors       int64
	SearchAvgNanos     int64
}
