// Package bookstore defines how the knowledge base reaches the user's
// library: where book text and metadata come from, and where the set of
// indexed books is remembered between runs.
package bookstore

import (
	"context"
	"fmt"
	"time"
)

// BookInfo is the metadata attached to retrieved excerpts.
type BookInfo struct {
	ID     int64
	Title  string
	Author string
}

// Attribution renders the source label used in assembled context.
func (b BookInfo) Attribution() string {
	author := b.Author
	if author == "" {
		author = "Unknown"
	}
	title := b.Title
	if title == "" {
		title = fmt.Sprintf("Book %d", b.ID)
	}
	return fmt.Sprintf("'%s' by %s", title, author)
}

// IndexedBook is one row of the registry.
type IndexedBook struct {
	BookID  int64
	AddedAt time.Time
}

// ContentSource provides book text and metadata by id.
type ContentSource interface {
	// BookInfo returns the metadata for a book, or *ErrBookNotFound.
	BookInfo(ctx context.Context, id int64) (BookInfo, error)

	// BookContent returns the full text of a book, or *ErrBookNotFound.
	// An existing book may legitimately have empty content.
	BookContent(ctx context.Context, id int64) (string, error)
}

// Registry remembers which books have been indexed. It is the durable
// source of truth for membership; the vector index is derived state that can
// be rebuilt from it.
type Registry interface {
	// Add records a book as indexed. Adding an already recorded book is
	// a no-op that keeps the original timestamp.
	Add(ctx context.Context, id int64) error

	// Remove forgets a book. Removing an unknown book is a no-op.
	Remove(ctx context.Context, id int64) error

	// List returns all recorded books in ascending id order.
	List(ctx context.Context) ([]IndexedBook, error)

	// Contains reports whether a book is recorded.
	Contains(ctx context.Context, id int64) (bool, error)

	// Close releases any underlying resources.
	Close() error
}

// ErrBookNotFound occurs when a book id is unknown to the content source.
type ErrBookNotFound struct {
	ID int64
}

func (e *ErrBookNotFound) Error() string {
	return fmt.Sprintf("book %d not found", e.ID)
}
