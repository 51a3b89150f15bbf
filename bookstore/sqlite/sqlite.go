// Package sqlite persists the knowledge base registry in a SQLite database,
// and can serve book content from a books table in the same database.
//
// It uses modernc.org/sqlite, a pure Go SQLite implementation, so the module
// builds without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jrgochan/bookbrain/bookstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexed_books (
	book_id  INTEGER PRIMARY KEY,
	added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Registry is a SQLite-backed bookstore.Registry.
type Registry struct {
	db   *sql.DB
	owns bool
}

var _ bookstore.Registry = (*Registry)(nil)

// OpenRegistry opens (and if needed creates) the registry database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	r, err := NewRegistry(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.owns = true
	return r, nil
}

// NewRegistry wraps an existing database handle. The caller keeps ownership
// of the handle; Close will not close it.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Add records a book as indexed. Repeats keep the original timestamp.
func (r *Registry) Add(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO indexed_books (book_id) VALUES (?) ON CONFLICT (book_id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("record book %d: %w", id, err)
	}
	return nil
}

// Remove forgets a book. Removing an unknown book is a no-op.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM indexed_books WHERE book_id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove book %d: %w", id, err)
	}
	return nil
}

// List returns all recorded books in ascending id order.
func (r *Registry) List(ctx context.Context) ([]bookstore.IndexedBook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT book_id, added_at FROM indexed_books ORDER BY book_id`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []bookstore.IndexedBook
	for rows.Next() {
		var b bookstore.IndexedBook
		var addedAt time.Time
		if err := rows.Scan(&b.BookID, &addedAt); err != nil {
			return nil, fmt.Errorf("scan book row: %w", err)
		}
		b.AddedAt = addedAt
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book rows: %w", err)
	}
	return books, nil
}

// Contains reports whether a book is recorded.
func (r *Registry) Contains(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM indexed_books WHERE book_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check book %d: %w", id, err)
	}
	return true, nil
}

// Close closes the database handle when this registry opened it.
func (r *Registry) Close() error {
	if !r.owns {
		return nil
	}
	return r.db.Close()
}

// Source serves book metadata and content from a books table. The table is
// read-only from this package's point of view; the owning application writes
// it.
type Source struct {
	db *sql.DB
}

var _ bookstore.ContentSource = (*Source)(nil)

// NewSource wraps an existing database handle containing a books table with
// id, title, author and content columns.
func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

// BookInfo returns the metadata for a book.
func (s *Source) BookInfo(ctx context.Context, id int64) (bookstore.BookInfo, error) {
	var info bookstore.BookInfo
	var title, author sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, author FROM books WHERE id = ?`, id).Scan(&info.ID, &title, &author)
	if errors.Is(err, sql.ErrNoRows) {
		return bookstore.BookInfo{}, &bookstore.ErrBookNotFound{ID: id}
	}
	if err != nil {
		return bookstore.BookInfo{}, fmt.Errorf("load book %d: %w", id, err)
	}
	info.Title = title.String
	info.Author = author.String
	return info, nil
}

// BookContent returns the full text of a book.
func (s *Source) BookContent(ctx context.Context, id int64) (string, error) {
	var content sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM books WHERE id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &bookstore.ErrBookNotFound{ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("load book %d content: %w", id, err)
	}
	return content.String, nil
}
