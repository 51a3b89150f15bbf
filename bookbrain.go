// Package bookbrain implements the knowledge base engine of a personal book
// library: it splits book text into overlapping chunks, embeds them, keeps a
// persistent vector index with per-book attribution, and answers similarity
// queries with source-labeled context for a language model.
//
// The KnowledgeBase orchestrates three collaborators: a
// bookstore.ContentSource supplying book text and metadata, a
// bookstore.Registry durably recording which books are indexed, and an
// embed.Provider turning text into vectors. The vector index itself is
// treated as a derived cache: the registry is the source of truth for
// membership, and the index can always be rebuilt from it.
package bookbrain

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jrgochan/bookbrain/bookstore"
	"github.com/jrgochan/bookbrain/chunk"
	"github.com/jrgochan/bookbrain/embed"
	"github.com/jrgochan/bookbrain/index"
	"github.com/jrgochan/bookbrain/store"
)

// KnowledgeBase manages the persistent vector index over a set of books.
//
// Structural operations (AddBook, RemoveBook, Rebuild) serialize on one
// mutex. Retrieval runs concurrently with other reads and is only blocked
// for the duration of an index handle swap, never for a whole rebuild:
// readers keep seeing the previous index until a rebuild completes.
type KnowledgeBase struct {
	opts     options
	splitter *chunk.Splitter
	provider embed.Provider
	source   bookstore.ContentSource
	registry bookstore.Registry
	files    *store.Store
	logger   *Logger
	metrics  MetricsCollector

	mu sync.Mutex // serializes structural operations

	idxMu  sync.RWMutex // guards idx handle and closed flag
	idx    *index.Flat
	closed bool
}

// New opens (or creates) a knowledge base rooted at dataDir.
//
// provider may be nil or unreachable; in that case a deterministic fallback
// embedder is substituted and the knowledge base runs in degraded mode (see
// embed.NewAuto). An unreadable on-disk index is quarantined and replaced
// with an empty one rather than failing New; the registry still remembers
// which books were indexed, so a Rebuild restores the content.
//
// Configuration errors (invalid chunk parameters, unwritable dataDir) fail
// New immediately.
func New(ctx context.Context, dataDir string, source bookstore.ContentSource, registry bookstore.Registry, provider embed.Provider, optFns ...Option) (*KnowledgeBase, error) {
	opts := applyOptions(optFns)

	splitter, err := chunk.New(func(o *chunk.Options) {
		o.ChunkSize = opts.chunkSize
		o.Overlap = opts.chunkOverlap
		o.Mode = opts.chunkMode
	})
	if err != nil {
		return nil, fmt.Errorf("chunking configuration: %w", err)
	}

	provider = embed.NewAuto(ctx, provider)

	files, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}

	kb := &KnowledgeBase{
		opts:     opts,
		splitter: splitter,
		provider: provider,
		source:   source,
		registry: registry,
		files:    files,
		logger:   opts.logger,
		metrics:  opts.metricsCollector,
	}

	if provider.Degraded() {
		kb.logger.LogDegraded(ctx, provider.ModelName())
	}

	kb.idx = kb.loadOrRecover(ctx)
	if kb.idx.Dimension() != provider.Dimension() {
		kb.logger.WarnContext(ctx, "index dimensionality does not match embedding provider, rebuild required",
			"index_dimension", kb.idx.Dimension(),
			"provider_dimension", provider.Dimension(),
		)
	}

	return kb, nil
}

// loadOrRecover opens the persisted index if one exists. Any failure to read
// it back quarantines the on-disk state and starts from an empty index; past
// data is preserved under a backup name, and the registry remains the basis
// for a recovery rebuild.
func (kb *KnowledgeBase) loadOrRecover(ctx context.Context) *index.Flat {
	path, ok := kb.files.Current()
	if ok {
		idx, err := kb.loadSnapshot(path)
		if err == nil {
			return idx
		}

		backupPath, qErr := kb.files.Quarantine()
		if qErr != nil {
			kb.logger.ErrorContext(ctx, "quarantine failed", "error", qErr)
		}
		kb.logger.LogQuarantine(ctx, backupPath, err)
	}

	empty, err := index.New(kb.provider.Dimension())
	if err != nil {
		// Dimension comes from the provider and is always positive.
		panic(fmt.Sprintf("bookbrain: create empty index: %v", err))
	}
	return empty
}

func (kb *KnowledgeBase) loadSnapshot(path string) (*index.Flat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return index.Load(f)
}

// AddResult reports the outcome of AddBook.
type AddResult struct {
	BookID int64

	// AlreadyIndexed is true when the book was present before the call
	// and nothing was done.
	AlreadyIndexed bool

	// ChunkCount is the number of chunks indexed for this book.
	ChunkCount int
}

// AddBook indexes one book. Adding an already indexed book is a no-op
// reported through the result, not an error. A book with no extractable
// text indexes as zero chunks.
//
// On any failure the book stays unindexed and the previous index remains
// live; callers may retry.
func (kb *KnowledgeBase) AddBook(ctx context.Context, bookID int64) (AddResult, error) {
	start := time.Now()
	result, err := kb.addBook(ctx, bookID)
	kb.metrics.RecordAddBook(time.Since(start), err)

	if err == nil && result.AlreadyIndexed {
		kb.logger.InfoContext(ctx, "book already indexed", "book_id", bookID)
	} else {
		kb.logger.LogAddBook(ctx, bookID, result.ChunkCount, err)
	}
	return result, translateError(err)
}

func (kb *KnowledgeBase) addBook(ctx context.Context, bookID int64) (AddResult, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.isClosed() {
		return AddResult{BookID: bookID}, ErrClosed
	}

	indexed, err := kb.registry.Contains(ctx, bookID)
	if err != nil {
		return AddResult{BookID: bookID}, fmt.Errorf("check registry: %w", err)
	}
	if indexed {
		return AddResult{BookID: bookID, AlreadyIndexed: true}, nil
	}

	kb.reportProgress(0, 1, fmt.Sprintf("Adding book %d to knowledge base", bookID))

	content, err := kb.source.BookContent(ctx, bookID)
	if err != nil {
		return AddResult{BookID: bookID}, fmt.Errorf("fetch content: %w", err)
	}

	texts := kb.splitter.Split(content)
	vectors, err := kb.embedAll(ctx, texts)
	if err != nil {
		return AddResult{BookID: bookID}, err
	}

	// Stage the addition on a copy so a failure below never leaves
	// half-added chunks visible to readers.
	staged := kb.indexHandle().Clone()
	if err := staged.Add(makeEntries(bookID, texts, vectors)); err != nil {
		return AddResult{BookID: bookID}, err
	}

	if err := kb.persist(staged); err != nil {
		return AddResult{BookID: bookID}, err
	}
	if err := kb.registry.Add(ctx, bookID); err != nil {
		// The new snapshot is on disk but the book is not registered.
		// Re-persist the previous state so disk and registry agree.
		if rollbackErr := kb.persist(kb.indexHandle()); rollbackErr != nil {
			kb.logger.ErrorContext(ctx, "rollback persist failed", "error", rollbackErr)
		}
		return AddResult{BookID: bookID}, fmt.Errorf("record book: %w", err)
	}

	kb.swapIndex(staged)
	kb.reportProgress(1, 1, fmt.Sprintf("Book %d added to knowledge base", bookID))

	return AddResult{BookID: bookID, ChunkCount: len(texts)}, nil
}

// RemoveBook unindexes one book. The backing index has no granular delete,
// so removal rebuilds the index from the remaining registered books; the
// cost is proportional to total indexed content, which is acceptable for a
// personal library. Removing a book that is not indexed returns
// ErrNotIndexed.
func (kb *KnowledgeBase) RemoveBook(ctx context.Context, bookID int64) (RebuildResult, error) {
	start := time.Now()
	result, err := kb.removeBook(ctx, bookID)
	kb.metrics.RecordRemoveBook(time.Since(start), err)
	kb.logger.LogRemoveBook(ctx, bookID, err)
	return result, translateError(err)
}

func (kb *KnowledgeBase) removeBook(ctx context.Context, bookID int64) (RebuildResult, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.isClosed() {
		return RebuildResult{}, ErrClosed
	}

	indexed, err := kb.registry.Contains(ctx, bookID)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("check registry: %w", err)
	}
	if !indexed {
		return RebuildResult{}, fmt.Errorf("%w: book %d", ErrNotIndexed, bookID)
	}

	registered, err := kb.registry.List(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("list registry: %w", err)
	}

	remaining := make([]int64, 0, len(registered))
	for _, b := range registered {
		if b.BookID != bookID {
			remaining = append(remaining, b.BookID)
		}
	}

	return kb.rebuildLocked(ctx, remaining)
}

// RebuildResult reports the outcome of a rebuild.
type RebuildResult struct {
	// Books are the book ids the rebuild was asked to index.
	Books []int64

	// Skipped are books whose content or embeddings could not be
	// obtained; they stay registered so a later rebuild can retry them,
	// but hold no chunks in the new index.
	Skipped []int64

	// ChunkCount is the total number of chunks in the new index.
	ChunkCount int
}

// Partial reports whether any requested book had to be skipped.
func (r RebuildResult) Partial() bool { return len(r.Skipped) > 0 }

func (r RebuildResult) String() string {
	if r.Partial() {
		return fmt.Sprintf("rebuilt %d books (%d chunks), %d books skipped due to errors",
			len(r.Books)-len(r.Skipped), r.ChunkCount, len(r.Skipped))
	}
	return fmt.Sprintf("rebuilt %d books (%d chunks)", len(r.Books), r.ChunkCount)
}

// Rebuild recomputes the whole index from the given books and atomically
// replaces the persisted one. A nil bookIDs slice means "rebuild from the
// currently registered set", the recovery path after corruption or an
// embedding provider change.
//
// Books whose content fetch or embedding fails are skipped with a warning
// and reported in the result; partial availability beats total failure for
// a personal tool. Readers keep seeing the old index until the swap.
func (kb *KnowledgeBase) Rebuild(ctx context.Context, bookIDs []int64) (RebuildResult, error) {
	start := time.Now()
	result, err := kb.rebuild(ctx, bookIDs)
	kb.metrics.RecordRebuild(len(result.Books), len(result.Skipped), time.Since(start))
	kb.logger.LogRebuild(ctx, len(result.Books), len(result.Skipped), result.ChunkCount, err)
	return result, translateError(err)
}

func (kb *KnowledgeBase) rebuild(ctx context.Context, bookIDs []int64) (RebuildResult, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.isClosed() {
		return RebuildResult{}, ErrClosed
	}

	if bookIDs == nil {
		registered, err := kb.registry.List(ctx)
		if err != nil {
			return RebuildResult{}, fmt.Errorf("list registry: %w", err)
		}
		bookIDs = make([]int64, 0, len(registered))
		for _, b := range registered {
			bookIDs = append(bookIDs, b.BookID)
		}
	}

	return kb.rebuildLocked(ctx, bookIDs)
}

// rebuildLocked builds a fresh index over bookIDs, persists it, aligns the
// registry with bookIDs and swaps the live handle. Must be called with mu
// held.
func (kb *KnowledgeBase) rebuildLocked(ctx context.Context, bookIDs []int64) (RebuildResult, error) {
	result := RebuildResult{Books: bookIDs}

	fresh, err := index.New(kb.provider.Dimension())
	if err != nil {
		return result, err
	}

	total := len(bookIDs)
	for i, bookID := range bookIDs {
		kb.reportProgress(i, total, fmt.Sprintf("Rebuilding knowledge base: book %d of %d", i+1, total))

		content, err := kb.source.BookContent(ctx, bookID)
		if err != nil {
			kb.logger.LogBookSkipped(ctx, bookID, err)
			result.Skipped = append(result.Skipped, bookID)
			continue
		}

		texts := kb.splitter.Split(content)
		vectors, err := kb.embedAll(ctx, texts)
		if err != nil {
			kb.logger.LogBookSkipped(ctx, bookID, err)
			result.Skipped = append(result.Skipped, bookID)
			continue
		}

		if err := fresh.Add(makeEntries(bookID, texts, vectors)); err != nil {
			return result, err
		}
	}

	if err := kb.persist(fresh); err != nil {
		return result, err
	}
	if err := kb.syncRegistry(ctx, bookIDs); err != nil {
		return result, err
	}

	kb.swapIndex(fresh)
	kb.reportProgress(total, total, "Knowledge base rebuild complete")

	result.ChunkCount = fresh.Len()
	return result, nil
}

// syncRegistry aligns the durable registry with the requested book set.
func (kb *KnowledgeBase) syncRegistry(ctx context.Context, bookIDs []int64) error {
	desired := make(map[int64]struct{}, len(bookIDs))
	for _, id := range bookIDs {
		desired[id] = struct{}{}
		if err := kb.registry.Add(ctx, id); err != nil {
			return fmt.Errorf("record book %d: %w", id, err)
		}
	}

	registered, err := kb.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}
	for _, b := range registered {
		if _, ok := desired[b.BookID]; ok {
			continue
		}
		if err := kb.registry.Remove(ctx, b.BookID); err != nil {
			return fmt.Errorf("unregister book %d: %w", b.BookID, err)
		}
	}
	return nil
}

// IndexedBookIDs returns the ids of all registered books in ascending
// order. The registry is the durable source of truth, so after a corruption
// recovery this still reports the last-known-good set even while the index
// itself is empty.
func (kb *KnowledgeBase) IndexedBookIDs(ctx context.Context) ([]int64, error) {
	if kb.isClosed() {
		return nil, ErrClosed
	}

	registered, err := kb.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	ids := make([]int64, 0, len(registered))
	for _, b := range registered {
		ids = append(ids, b.BookID)
	}
	return ids, nil
}

// Stats describes the current state of the knowledge base.
type Stats struct {
	// Books is the number of registered books.
	Books int

	// Chunks is the number of chunks in the live index.
	Chunks int

	// Dimension is the index vector length.
	Dimension int

	// Model is the embedding model in use.
	Model string

	// Degraded is true when embeddings come from the deterministic
	// fallback instead of a real model.
	Degraded bool
}

// Stats returns a snapshot of the knowledge base state.
func (kb *KnowledgeBase) Stats(ctx context.Context) (Stats, error) {
	if kb.isClosed() {
		return Stats{}, ErrClosed
	}

	registered, err := kb.registry.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list registry: %w", err)
	}

	idx := kb.indexHandle()
	return Stats{
		Books:     len(registered),
		Chunks:    idx.Len(),
		Dimension: idx.Dimension(),
		Model:     kb.provider.ModelName(),
		Degraded:  kb.provider.Degraded(),
	}, nil
}

// Close releases resources held by the knowledge base. Operations after
// Close return ErrClosed.
func (kb *KnowledgeBase) Close() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.idxMu.Lock()
	if kb.closed {
		kb.idxMu.Unlock()
		return nil
	}
	kb.closed = true
	kb.idxMu.Unlock()

	return kb.registry.Close()
}

// embedAll embeds texts with bounded concurrency. All-or-nothing: a single
// failed chunk fails the batch, so callers never index a book partially.
func (kb *KnowledgeBase) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(kb.opts.embedConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			v, err := kb.provider.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (kb *KnowledgeBase) persist(idx *index.Flat) error {
	return kb.files.Replace(func(w io.Writer) error {
		return idx.Save(w, func(o *index.SnapshotOptions) {
			o.Codec = kb.opts.codec
			o.Compression = kb.opts.compression
		})
	})
}

func (kb *KnowledgeBase) indexHandle() *index.Flat {
	kb.idxMu.RLock()
	defer kb.idxMu.RUnlock()
	return kb.idx
}

func (kb *KnowledgeBase) swapIndex(idx *index.Flat) {
	kb.idxMu.Lock()
	kb.idx = idx
	kb.idxMu.Unlock()
}

func (kb *KnowledgeBase) isClosed() bool {
	kb.idxMu.RLock()
	defer kb.idxMu.RUnlock()
	return kb.closed
}

func (kb *KnowledgeBase) reportProgress(current, total int, message string) {
	if kb.opts.progress != nil {
		kb.opts.progress(current, total, message)
	}
}

func makeEntries(bookID int64, texts []string, vectors [][]float32) []index.Entry {
	entries := make([]index.Entry, len(texts))
	for i := range texts {
		entries[i] = index.Entry{Text: texts[i], BookID: bookID, Vector: vectors[i]}
	}
	return entries
}
