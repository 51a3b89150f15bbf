package bookbrain

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrgochan/bookbrain/bookstore"
	"github.com/jrgochan/bookbrain/embed"
)

// keywordProvider embeds text as keyword occurrence counts, so tests control
// similarity exactly and deterministically.
type keywordProvider struct {
	words []string
}

var _ embed.Provider = (*keywordProvider)(nil)

func newKeywordProvider() *keywordProvider {
	return &keywordProvider{words: []string{"fox", "dog", "quick", "lazy", "sleep", "jump"}}
}

func (p *keywordProvider) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, len(p.words))
	for i, w := range p.words {
		v[i] = float32(strings.Count(lower, w))
	}
	return v, nil
}

func (p *keywordProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (p *keywordProvider) Dimension() int    { return len(p.words) }
func (p *keywordProvider) ModelName() string { return "keyword-test" }
func (p *keywordProvider) Degraded() bool    { return false }

func newTestLibrary() *bookstore.MemorySource {
	src := bookstore.NewMemorySource()
	src.Put(bookstore.BookInfo{ID: 1, Title: "The Quick Brown Fox", Author: "Jane Doe"}, "The quick brown fox jumps.")
	src.Put(bookstore.BookInfo{ID: 2, Title: "Lazy Dogs", Author: "John Smith"}, "Lazy dogs sleep all day.")
	return src
}

func newTestKB(t *testing.T, dir string, src bookstore.ContentSource, reg bookstore.Registry) *KnowledgeBase {
	t.Helper()
	kb, err := New(context.Background(), dir, src, reg, newKeywordProvider())
	require.NoError(t, err)
	return kb
}

func TestAddBookIdempotent(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()

	first, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	assert.False(t, first.AlreadyIndexed)
	assert.Equal(t, 1, first.ChunkCount)

	second, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	assert.True(t, second.AlreadyIndexed)

	stats, err := kb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Books)
	assert.Equal(t, 1, stats.Chunks, "re-adding must not duplicate chunks")
}

func TestAddBookUnknown(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())

	_, err := kb.AddBook(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBookNotFound)

	ids, err := kb.IndexedBookIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "a failed add must leave the book unindexed")
}

func TestAddBookEmptyContent(t *testing.T) {
	src := newTestLibrary()
	src.Put(bookstore.BookInfo{ID: 3, Title: "Blank", Author: "Nobody"}, "")
	kb := newTestKB(t, t.TempDir(), src, bookstore.NewMemoryRegistry())
	ctx := context.Background()

	result, err := kb.AddBook(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunkCount)

	ids, err := kb.IndexedBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids, "a zero-chunk book still counts as indexed")
}

func TestRemoveBookNotIndexed(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())

	_, err := kb.RemoveBook(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestEmptyIndexQuery(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())

	got, err := kb.RetrieveRelevantContext(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Equal(t, NoContextFound, got)
}

func TestRetrieveAttribution(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)

	got, err := kb.RetrieveRelevantContext(ctx, "fox")
	require.NoError(t, err)
	assert.Contains(t, got, "--- EXCERPT 1 (from 'The Quick Brown Fox' by Jane Doe) ---")
	assert.Contains(t, got, "The quick brown fox jumps.")
}

func TestEndToEndRemoveThenSearch(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	_, err = kb.AddBook(ctx, 2)
	require.NoError(t, err)

	hits, err := kb.RawResults(ctx, "fox")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].BookID, "the fox book must rank first for a fox query")

	result, err := kb.RemoveBook(ctx, 1)
	require.NoError(t, err)
	assert.False(t, result.Partial())

	hits, err = kb.RawResults(ctx, "fox")
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, int64(1), h.BookID, "removed book must never surface in results")
	}

	ids, err := kb.IndexedBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestRetrieveThreshold(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 2)
	require.NoError(t, err)

	// The dogs book scores zero for a fox query; any positive threshold
	// excludes it.
	threshold := float32(0.5)
	got, err := kb.RetrieveRelevantContext(ctx, "fox", func(o *SearchOptions) {
		o.Threshold = &threshold
	})
	require.NoError(t, err)
	assert.Equal(t, NoContextFound, got)
}

func TestRetrieveInvalidNumResults(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())

	_, err := kb.RawResults(context.Background(), "fox", func(o *SearchOptions) {
		o.NumResults = 0
	})
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	src := newTestLibrary()
	reg := bookstore.NewMemoryRegistry()
	ctx := context.Background()

	kb := newTestKB(t, dir, src, reg)
	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	reopened := newTestKB(t, dir, src, reg)
	defer reopened.Close()

	got, err := reopened.RetrieveRelevantContext(ctx, "fox")
	require.NoError(t, err)
	assert.Contains(t, got, "The quick brown fox jumps.", "index must survive a restart without re-adding")
}

func corruptSnapshots(t *testing.T, dir string, data []byte) {
	t.Helper()
	found := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "index.snapshot" {
			found++
			return os.WriteFile(path, data, 0o644)
		}
		return nil
	})
	require.NoError(t, err)
	require.Positive(t, found, "expected a snapshot file to corrupt")
}

func TestCorruptionRecovery(t *testing.T) {
	dir := t.TempDir()
	src := newTestLibrary()
	reg := bookstore.NewMemoryRegistry()
	ctx := context.Background()

	kb := newTestKB(t, dir, src, reg)
	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	corruptSnapshots(t, dir, []byte("garbage, not a snapshot"))

	// Opening over damaged state must not fail.
	reopened := newTestKB(t, dir, src, reg)
	defer reopened.Close()

	// The damaged generation was quarantined, not deleted.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	backups := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), "_backup_") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)

	// The registry still remembers the book; the index is empty.
	ids, err := reopened.IndexedBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Chunks)

	// Adds keep working, and a registry-driven rebuild restores content.
	_, err = reopened.AddBook(ctx, 2)
	require.NoError(t, err)

	result, err := reopened.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.False(t, result.Partial())
	assert.Equal(t, 2, result.ChunkCount)

	got, err := reopened.RetrieveRelevantContext(ctx, "fox")
	require.NoError(t, err)
	assert.Contains(t, got, "The quick brown fox jumps.")
}

func TestCorruptionRecoveryDamagedLengthField(t *testing.T) {
	dir := t.TempDir()
	src := newTestLibrary()
	reg := bookstore.NewMemoryRegistry()
	ctx := context.Background()

	kb := newTestKB(t, dir, src, reg)
	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	// A valid-looking snapshot header whose length field rotted to an
	// absurd value. Opening must quarantine it like any other damage.
	header := []byte("BKBX")
	header = append(header, 1, 0, 4)
	header = append(header, "json"...)
	header = append(header, 0x40, 0, 0, 0, 0, 0, 0, 0)
	header = append(header, 0, 0, 0, 0)
	corruptSnapshots(t, dir, header)

	reopened := newTestKB(t, dir, src, reg)
	defer reopened.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	backups := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), "_backup_") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)

	_, err = reopened.AddBook(ctx, 2)
	require.NoError(t, err)
}

// droppableSource forgets books on demand, driving the skip path of Rebuild.
type droppableSource struct {
	*bookstore.MemorySource
	dropped map[int64]bool
}

func (d *droppableSource) BookContent(ctx context.Context, id int64) (string, error) {
	if d.dropped[id] {
		return "", &bookstore.ErrBookNotFound{ID: id}
	}
	return d.MemorySource.BookContent(ctx, id)
}

func TestRebuildSkipsFailingBooks(t *testing.T) {
	src := &droppableSource{MemorySource: newTestLibrary(), dropped: map[int64]bool{}}
	kb := newTestKB(t, t.TempDir(), src, bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	_, err = kb.AddBook(ctx, 2)
	require.NoError(t, err)

	src.dropped[1] = true

	result, err := kb.Rebuild(ctx, nil)
	require.NoError(t, err, "a skipped book must not fail the rebuild")
	assert.True(t, result.Partial())
	assert.Equal(t, []int64{1}, result.Skipped)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Contains(t, result.String(), "skipped")

	// The skipped book stays registered so a later rebuild can retry it.
	ids, err := kb.IndexedBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	src.dropped[1] = false
	result, err = kb.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.False(t, result.Partial())
	assert.Equal(t, 2, result.ChunkCount)
}

// slowSource stalls content fetches so a rebuild stays in flight long
// enough for retrievals to race it.
type slowSource struct {
	*bookstore.MemorySource
	delay time.Duration
}

func (s *slowSource) BookContent(ctx context.Context, id int64) (string, error) {
	time.Sleep(s.delay)
	return s.MemorySource.BookContent(ctx, id)
}

func TestRetrievalDuringRebuild(t *testing.T) {
	src := &slowSource{MemorySource: newTestLibrary(), delay: 10 * time.Millisecond}
	kb := newTestKB(t, t.TempDir(), src, bookstore.NewMemoryRegistry())
	defer kb.Close()
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)
	_, err = kb.AddBook(ctx, 2)
	require.NoError(t, err)

	rebuildErr := make(chan error, 1)
	go func() {
		_, err := kb.Rebuild(ctx, nil)
		rebuildErr <- err
	}()

	// Retrieval answers from the old index while the rebuild is in
	// flight and from the new one afterwards. Both hold the same books,
	// so every query along the way must see a complete index.
	for done := false; !done; {
		select {
		case err := <-rebuildErr:
			require.NoError(t, err)
			done = true
		default:
			hits, err := kb.RawResults(ctx, "fox")
			require.NoError(t, err)
			require.NotEmpty(t, hits, "a reader must never observe a partially built index")
			assert.Equal(t, int64(1), hits[0].BookID)
		}
	}

	hits, err := kb.RawResults(ctx, "fox")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].BookID)
}

// infoFailingSource serves content but cannot resolve book metadata.
type infoFailingSource struct {
	*bookstore.MemorySource
}

func (s *infoFailingSource) BookInfo(_ context.Context, id int64) (bookstore.BookInfo, error) {
	return bookstore.BookInfo{}, &bookstore.ErrBookNotFound{ID: id}
}

func TestRetrieveUnresolvableBookInfo(t *testing.T) {
	src := &infoFailingSource{MemorySource: newTestLibrary()}
	kb := newTestKB(t, t.TempDir(), src, bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)

	got, err := kb.RetrieveRelevantContext(ctx, "fox")
	require.NoError(t, err)
	assert.Contains(t, got, "--- EXCERPT 1 ---", "unresolvable metadata falls back to an unlabeled excerpt")
	assert.Contains(t, got, "The quick brown fox jumps.")
	assert.NotContains(t, got, "from")
}

func TestStats(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()

	_, err := kb.AddBook(ctx, 1)
	require.NoError(t, err)

	stats, err := kb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Books)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 6, stats.Dimension)
	assert.Equal(t, "keyword-test", stats.Model)
	assert.False(t, stats.Degraded)
}

func TestDegradedFallbackProvider(t *testing.T) {
	// A nil provider puts the knowledge base in degraded mode with
	// deterministic fallback embeddings; everything still works.
	kb, err := New(context.Background(), t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry(), nil)
	require.NoError(t, err)
	defer kb.Close()
	ctx := context.Background()

	stats, err := kb.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Degraded)

	_, err = kb.AddBook(ctx, 1)
	require.NoError(t, err)

	// Fallback vectors are deterministic: the exact stored text queries
	// itself back with top similarity.
	hits, err := kb.RawResults(ctx, "The quick brown fox jumps.")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].BookID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-4)
}

func TestOperationsAfterClose(t *testing.T) {
	kb := newTestKB(t, t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry())
	ctx := context.Background()
	require.NoError(t, kb.Close())
	require.NoError(t, kb.Close(), "double close is a no-op")

	_, err := kb.AddBook(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.RemoveBook(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.Rebuild(ctx, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.RetrieveRelevantContext(ctx, "fox")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.IndexedBookIDs(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.Stats(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProgressCallback(t *testing.T) {
	var messages []string
	kb, err := New(context.Background(), t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry(),
		newKeywordProvider(),
		WithProgress(func(current, total int, message string) {
			messages = append(messages, message)
		}),
	)
	require.NoError(t, err)
	defer kb.Close()
	ctx := context.Background()

	_, err = kb.AddBook(ctx, 1)
	require.NoError(t, err)
	_, err = kb.AddBook(ctx, 2)
	require.NoError(t, err)
	messages = nil

	_, err = kb.Rebuild(ctx, nil)
	require.NoError(t, err)

	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "book 1 of 2")
	assert.Equal(t, "Knowledge base rebuild complete", messages[len(messages)-1])
}

func TestMetricsCollection(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	kb, err := New(context.Background(), t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry(),
		newKeywordProvider(), WithMetricsCollector(metrics))
	require.NoError(t, err)
	defer kb.Close()
	ctx := context.Background()

	_, err = kb.AddBook(ctx, 1)
	require.NoError(t, err)
	_, err = kb.RawResults(ctx, "fox")
	require.NoError(t, err)
	_, err = kb.RemoveBook(ctx, 1)
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.AddBookCount)
	assert.Equal(t, int64(0), stats.AddBookErrors)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.RemoveBookCount)
	assert.Positive(t, stats.RemoveBookAvgNanos, "removal latency must be recorded")
}

func TestConfigurationErrors(t *testing.T) {
	_, err := New(context.Background(), t.TempDir(), newTestLibrary(), bookstore.NewMemoryRegistry(),
		newKeywordProvider(), WithChunking(100, 100))
	require.Error(t, err, "overlap >= chunk size is a startup configuration error")
}
