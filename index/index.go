// Package index implements the flat vector index backing the knowledge base.
//
// The index is an exact-search store: every query scans all entries. That is
// the right trade-off for a personal library (at most a few hundred thousand
// chunks), gives 100% recall, and keeps persistence trivial. Entries carry
// only their chunk text and owning book id; there is no per-chunk addressing
// beyond similarity search, and no granular delete. Removal is done by
// rebuilding a fresh index from the remaining books.
//
// Dimensionality is fixed at construction and enforced on every Add and
// Search; one index never holds mixed-dimension vectors.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/jrgochan/bookbrain/distance"
)

// Entry is one chunk to be stored: its text, the owning book, and its
// embedding vector.
type Entry struct {
	Text   string
	BookID int64
	Vector []float32
}

// Result is one search hit.
type Result struct {
	// Text is the stored chunk text.
	Text string

	// BookID is the owning book.
	BookID int64

	// Score is the similarity score; higher is more similar.
	Score float32

	// Row is the insertion position of the hit.
	Row uint32
}

// Options configure a Flat index.
type Options struct {
	// Metric selects the similarity metric. Vectors are L2-normalized on
	// insert for MetricCosine, making scoring a plain dot product.
	Metric distance.Metric
}

// DefaultOptions are the options used when none are overridden.
var DefaultOptions = Options{
	Metric: distance.MetricCosine,
}

// Flat is an exact-search vector index. It is safe for concurrent use; reads
// proceed in parallel and writes are serialized.
type Flat struct {
	dimension int
	metric    distance.Metric
	simFn     distance.Func

	mu      sync.RWMutex
	texts   []string
	bookIDs []int64
	vectors [][]float32
	books   map[int64]*roaring.Bitmap // book id -> row positions
}

// New creates an empty Flat index with a fixed dimensionality.
func New(dimension int, optFns ...func(o *Options)) (*Flat, error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	simFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Flat{
		dimension: dimension,
		metric:    opts.Metric,
		simFn:     simFn,
		books:     make(map[int64]*roaring.Bitmap),
	}, nil
}

// Dimension returns the fixed vector length of this index.
func (f *Flat) Dimension() int { return f.dimension }

// Metric returns the similarity metric of this index.
func (f *Flat) Metric() distance.Metric { return f.metric }

// Len returns the number of stored chunks.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.texts)
}

// Books returns the distinct book ids present in the index, in ascending
// order.
func (f *Flat) Books() []int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]int64, 0, len(f.books))
	for id := range f.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ChunkCount returns the number of stored chunks for one book.
func (f *Flat) ChunkCount(bookID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bm, ok := f.books[bookID]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// ContainsBook reports whether the index holds any chunks for bookID.
func (f *Flat) ContainsBook(bookID int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.books[bookID]
	return ok
}

// Add appends entries to the index. All vectors must match the index
// dimensionality; on any mismatch nothing is added.
func (f *Flat) Add(entries []Entry) error {
	for i, e := range entries {
		if len(e.Vector) != f.dimension {
			return &ErrDimensionMismatch{Expected: f.dimension, Actual: len(e.Vector), Position: i}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range entries {
		vec := f.prepare(e.Vector)
		row := uint32(len(f.texts))

		f.texts = append(f.texts, e.Text)
		f.bookIDs = append(f.bookIDs, e.BookID)
		f.vectors = append(f.vectors, vec)

		bm, ok := f.books[e.BookID]
		if !ok {
			bm = roaring.New()
			f.books[e.BookID] = bm
		}
		bm.Add(row)
	}
	return nil
}

// Clone returns an independent deep copy of the index. Callers use it to
// stage additions without exposing partial state to concurrent readers.
func (f *Flat) Clone() *Flat {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clone := &Flat{
		dimension: f.dimension,
		metric:    f.metric,
		simFn:     f.simFn,
		texts:     append([]string(nil), f.texts...),
		bookIDs:   append([]int64(nil), f.bookIDs...),
		vectors:   make([][]float32, len(f.vectors)),
		books:     make(map[int64]*roaring.Bitmap, len(f.books)),
	}
	for i, vec := range f.vectors {
		clone.vectors[i] = append([]float32(nil), vec...)
	}
	for id, bm := range f.books {
		clone.books[id] = bm.Clone()
	}
	return clone
}

// SearchOptions configure a single search.
type SearchOptions struct {
	// AllowedBooks restricts hits to the given books. Nil means no
	// restriction; an empty, non-nil slice matches nothing.
	AllowedBooks []int64

	// MinScore drops hits scoring below the threshold. Nil disables the
	// cutoff (the default); MetricL2 scores are negative, so a plain zero
	// default would silently filter everything.
	MinScore *float32
}

// Search returns the k most similar entries to the query, ordered by
// descending score; ties keep insertion order. k is capped at the number of
// stored chunks; searching an empty index returns no results.
func (f *Flat) Search(query []float32, k int, optFns ...func(o *SearchOptions)) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != f.dimension {
		return nil, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(query)}
	}

	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.prepare(query)

	allowed := f.allowedRows(opts.AllowedBooks)
	results := make([]Result, 0, len(f.texts))
	for row := range f.texts {
		if allowed != nil && !allowed.Contains(uint32(row)) {
			continue
		}
		score := f.simFn(q, f.vectors[row])
		if opts.MinScore != nil && score < *opts.MinScore {
			continue
		}
		results = append(results, Result{
			Text:   f.texts[row],
			BookID: f.bookIDs[row],
			Score:  score,
			Row:    uint32(row),
		})
	}

	// Stable sort keeps insertion order for equal scores, which makes
	// retrieval deterministic.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// allowedRows unions the row bitmaps of the allowed books.
// Returns nil when no restriction applies. Must be called with mu held.
func (f *Flat) allowedRows(bookIDs []int64) *roaring.Bitmap {
	if bookIDs == nil {
		return nil
	}

	allowed := roaring.New()
	for _, id := range bookIDs {
		if bm, ok := f.books[id]; ok {
			allowed.Or(bm)
		}
	}
	return allowed
}

// prepare returns the vector to score with: an L2-normalized copy for the
// cosine metric, the input unchanged otherwise.
func (f *Flat) prepare(vec []float32) []float32 {
	if f.metric != distance.MetricCosine {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	if normalized, ok := distance.NormalizeL2Copy(vec); ok {
		return normalized
	}
	// Zero vector: keep a copy; it scores 0 against everything.
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

func (f *Flat) String() string {
	return fmt.Sprintf("Flat(dim=%d, metric=%s, len=%d)", f.dimension, f.metric, f.Len())
}
