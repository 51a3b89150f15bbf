// Package chunk splits document text into bounded, overlapping chunks.
//
// Chunks are the unit of embedding and retrieval. Splitting prefers natural
// boundaries (paragraphs, then sentences) and only falls back to hard
// character cuts for segments that exceed the chunk size on their own.
// Splitting is deterministic: identical input and options always produce
// identical chunks, which re-indexing and tests rely on.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects the boundary strategy used before hard cuts.
type Mode int

const (
	// ModeParagraph splits at blank lines, packing whole paragraphs.
	ModeParagraph Mode = iota
	// ModeSentence splits after sentence-ending punctuation.
	ModeSentence
	// ModeCharacter cuts at fixed character offsets with no boundary logic.
	ModeCharacter
)

func (m Mode) String() string {
	switch m {
	case ModeParagraph:
		return "paragraph"
	case ModeSentence:
		return "sentence"
	case ModeCharacter:
		return "character"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Default chunking parameters, sized for prose and a few-hundred-dimension
// embedding model.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

var (
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
	sentencePattern  = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)
)

// Options configure a Splitter.
type Options struct {
	// ChunkSize is the maximum chunk length in characters (runes).
	ChunkSize int

	// Overlap is the number of characters shared with the previous chunk.
	// Must be smaller than ChunkSize.
	Overlap int

	// Mode selects the boundary strategy.
	Mode Mode
}

// DefaultOptions are the options used when none are overridden.
var DefaultOptions = Options{
	ChunkSize: DefaultChunkSize,
	Overlap:   DefaultOverlap,
	Mode:      ModeParagraph,
}

// Splitter splits text into overlapping chunks. It is immutable after
// construction and safe for concurrent use.
type Splitter struct {
	chunkSize int
	overlap   int
	mode      Mode
}

// New creates a Splitter.
//
// Invalid chunk geometry is a configuration error and is reported here,
// never per Split call.
func New(optFns ...func(o *Options)) (*Splitter, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk: chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.Overlap < 0 {
		return nil, fmt.Errorf("chunk: overlap must not be negative, got %d", opts.Overlap)
	}
	if opts.Overlap >= opts.ChunkSize {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than chunk size %d", opts.Overlap, opts.ChunkSize)
	}

	return &Splitter{
		chunkSize: opts.ChunkSize,
		overlap:   opts.Overlap,
		mode:      opts.Mode,
	}, nil
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap length.
func (s *Splitter) Overlap() int { return s.overlap }

// Split splits text into chunks. Empty or whitespace-only text yields no
// chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if s.mode == ModeCharacter {
		return s.splitFixed(text)
	}

	segments := s.segment(text)

	var chunks []string
	var current []rune

	for _, seg := range segments {
		segRunes := []rune(seg)

		// Oversized segment: flush what we have and hard-cut the segment.
		if len(segRunes) > s.chunkSize {
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = nil
			}
			hard := s.splitFixed(seg)
			if len(hard) > 0 {
				chunks = append(chunks, hard[:len(hard)-1]...)
				// The tail of the oversized segment seeds the next chunk so
				// following segments still pack up to the size limit.
				current = []rune(hard[len(hard)-1])
			}
			continue
		}

		if len(current) > 0 && len(current)+1+len(segRunes) > s.chunkSize {
			chunks = append(chunks, string(current))
			current = s.overlapTail(current)
			if len(current)+1+len(segRunes) > s.chunkSize {
				// Overlap tail plus segment still too large; drop the tail.
				current = nil
			}
		}

		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, segRunes...)
	}

	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}

	return chunks
}

// splitFixed cuts text at fixed rune offsets, each chunk sharing the
// configured overlap with its predecessor.
func (s *Splitter) splitFixed(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.chunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// overlapTail returns the trailing overlap of a just-emitted chunk, trimmed
// to start at a word boundary when one exists inside the overlap window.
func (s *Splitter) overlapTail(current []rune) []rune {
	if s.overlap == 0 || len(current) <= s.overlap {
		return nil
	}

	tail := current[len(current)-s.overlap:]
	if i := indexRune(tail, ' '); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}

	out := make([]rune, len(tail))
	copy(out, tail)
	return out
}

func indexRune(runes []rune, r rune) int {
	for i, c := range runes {
		if c == r {
			return i
		}
	}
	return -1
}

// segment splits text into boundary-respecting segments for the configured
// mode, dropping empty segments.
func (s *Splitter) segment(text string) []string {
	var raw []string
	switch s.mode {
	case ModeSentence:
		matches := sentencePattern.FindAllStringSubmatchIndex(text, -1)
		end := 0
		for _, m := range matches {
			raw = append(raw, text[m[2]:m[3]])
			end = m[1]
		}
		// Trailing text without terminal punctuation is still a segment.
		if rest := text[end:]; strings.TrimSpace(rest) != "" {
			raw = append(raw, rest)
		}
	default:
		raw = paragraphPattern.Split(text, -1)
	}

	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
