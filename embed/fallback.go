package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DefaultFallbackDimension matches the small sentence-transformer models the
// primary providers typically serve, so a later switch back to a real model
// does not force a dimension change.
const DefaultFallbackDimension = 384

// Fallback is a deterministic, non-semantic embedding provider.
//
// It derives a pseudo-random unit vector from a SHA-256 hash of the input,
// so identical text always maps to the same vector while different texts
// collide with negligible probability. This preserves exact-duplicate
// detection and keeps the rest of the system functional when no real model
// is available; it provides no semantic similarity, which Degraded reports.
type Fallback struct {
	dimension int
}

var _ Provider = (*Fallback)(nil)

// NewFallback creates a Fallback provider with the given dimensionality.
func NewFallback(dimension int) *Fallback {
	if dimension <= 0 {
		dimension = DefaultFallbackDimension
	}
	return &Fallback{dimension: dimension}
}

// Embed returns the deterministic fallback vector for text.
func (f *Fallback) Embed(_ context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))

	// Expand the seed into dimension*4 bytes via counter-mode rehashing,
	// then map each 4-byte word onto [-1, 1).
	v := make([]float32, f.dimension)
	var block [sha256.Size]byte
	var counter [8]byte

	for i := 0; i < f.dimension; i++ {
		if i%8 == 0 {
			binary.BigEndian.PutUint64(counter[:], uint64(i/8))
			h := sha256.New()
			h.Write(seed[:])
			h.Write(counter[:])
			h.Sum(block[:0])
		}
		word := binary.BigEndian.Uint32(block[(i%8)*4:])
		v[i] = float32(word)/float32(math.MaxUint32)*2 - 1
	}

	normalize(v)
	return v, nil
}

// EmbedBatch returns fallback vectors for all texts.
func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, f, texts)
}

// Dimension returns the configured vector length.
func (f *Fallback) Dimension() int { return f.dimension }

// ModelName identifies the fallback generator.
func (f *Fallback) ModelName() string { return "deterministic-fallback" }

// Degraded always reports true: fallback vectors carry no semantics.
func (f *Fallback) Degraded() bool { return true }

func normalize(v []float32) {
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= inv
	}
}
