package bookbrain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jrgochan/bookbrain/index"
)

// NoContextFound is returned by RetrieveRelevantContext when no stored chunk
// matches the query. It is a sentinel value, not an error: callers can tell
// "found nothing" apart from a failed search.
const NoContextFound = "No relevant information found in the knowledge base."

// DefaultNumResults is the number of excerpts retrieved when not overridden.
const DefaultNumResults = 5

var whitespacePattern = regexp.MustCompile(`\s+`)

// SearchOptions configure a retrieval.
type SearchOptions struct {
	// NumResults is the maximum number of excerpts to return.
	NumResults int

	// Threshold drops hits scoring below the given similarity. Nil (the
	// default) applies no cutoff.
	Threshold *float32

	// Books restricts retrieval to the given books. Nil means all
	// indexed books.
	Books []int64
}

// SearchHit is one raw retrieval result.
type SearchHit struct {
	BookID int64
	Text   string
	Score  float32
}

// RetrieveRelevantContext finds the chunks most similar to query and
// assembles them into a single source-attributed context string for a
// language model. Each hit becomes a labeled excerpt:
//
//	--- EXCERPT 1 (from 'Title' by Author) ---
//	<chunk text>
//
// A hit whose book metadata cannot be resolved keeps its place as an
// unlabeled excerpt rather than being dropped. Zero hits return the
// NoContextFound sentinel.
func (kb *KnowledgeBase) RetrieveRelevantContext(ctx context.Context, query string, optFns ...func(o *SearchOptions)) (string, error) {
	hits, err := kb.RawResults(ctx, query, optFns...)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return NoContextFound, nil
	}

	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}

		info, infoErr := kb.source.BookInfo(ctx, hit.BookID)
		if infoErr != nil {
			fmt.Fprintf(&sb, "--- EXCERPT %d ---\n%s", i+1, hit.Text)
			continue
		}
		fmt.Fprintf(&sb, "--- EXCERPT %d (from %s) ---\n%s", i+1, info.Attribution(), hit.Text)
	}
	return sb.String(), nil
}

// RawResults returns scored raw hits for a query, without context assembly.
// This powers explorer-style UIs that want to inspect scores and owning
// books directly.
func (kb *KnowledgeBase) RawResults(ctx context.Context, query string, optFns ...func(o *SearchOptions)) ([]SearchHit, error) {
	start := time.Now()
	hits, k, err := kb.rawResults(ctx, query, optFns...)
	kb.metrics.RecordSearch(k, time.Since(start), err)
	kb.logger.LogSearch(ctx, k, len(hits), err)
	return hits, translateError(err)
}

func (kb *KnowledgeBase) rawResults(ctx context.Context, query string, optFns ...func(o *SearchOptions)) ([]SearchHit, int, error) {
	opts := SearchOptions{NumResults: DefaultNumResults}
	for _, fn := range optFns {
		fn(&opts)
	}

	if kb.isClosed() {
		return nil, opts.NumResults, ErrClosed
	}
	if opts.NumResults <= 0 {
		return nil, opts.NumResults, ErrInvalidK
	}

	query = cleanQuery(query)
	if query == "" {
		kb.logger.WarnContext(ctx, "empty query provided for search")
		return nil, opts.NumResults, nil
	}

	vec, err := kb.provider.Embed(ctx, query)
	if err != nil {
		return nil, opts.NumResults, fmt.Errorf("embed query: %w", err)
	}

	results, err := kb.indexHandle().Search(vec, opts.NumResults, func(o *index.SearchOptions) {
		o.AllowedBooks = opts.Books
		o.MinScore = opts.Threshold
	})
	if err != nil {
		return nil, opts.NumResults, err
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{BookID: r.BookID, Text: r.Text, Score: r.Score}
	}
	return hits, opts.NumResults, nil
}

// cleanQuery collapses runs of whitespace and trims the query.
func cleanQuery(query string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
}
