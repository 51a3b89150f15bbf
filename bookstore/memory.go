package bookstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-memory ContentSource. It is handy for tests and for
// callers that already hold their books in memory.
type MemorySource struct {
	mu    sync.RWMutex
	infos map[int64]BookInfo
	texts map[int64]string
}

var _ ContentSource = (*MemorySource)(nil)

// NewMemorySource creates an empty in-memory content source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		infos: make(map[int64]BookInfo),
		texts: make(map[int64]string),
	}
}

// Put adds or replaces a book.
func (m *MemorySource) Put(info BookInfo, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[info.ID] = info
	m.texts[info.ID] = content
}

// BookInfo returns the metadata for a book, or *ErrBookNotFound.
func (m *MemorySource) BookInfo(_ context.Context, id int64) (BookInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.infos[id]
	if !ok {
		return BookInfo{}, &ErrBookNotFound{ID: id}
	}
	return info, nil
}

// BookContent returns the full text of a book, or *ErrBookNotFound.
func (m *MemorySource) BookContent(_ context.Context, id int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text, ok := m.texts[id]
	if !ok {
		return "", &ErrBookNotFound{ID: id}
	}
	return text, nil
}

// MemoryRegistry is an in-memory Registry. State is lost on process exit;
// use the sqlite registry for persistence.
type MemoryRegistry struct {
	mu    sync.RWMutex
	books map[int64]time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{books: make(map[int64]time.Time)}
}

// Add records a book as indexed, keeping the original timestamp on repeats.
func (m *MemoryRegistry) Add(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		m.books[id] = time.Now().UTC()
	}
	return nil
}

// Remove forgets a book.
func (m *MemoryRegistry) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	return nil
}

// List returns all recorded books in ascending id order.
func (m *MemoryRegistry) List(_ context.Context) ([]IndexedBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]IndexedBook, 0, len(m.books))
	for id, addedAt := range m.books {
		books = append(books, IndexedBook{BookID: id, AddedAt: addedAt})
	}
	sort.Slice(books, func(i, j int) bool { return books[i].BookID < books[j].BookID })
	return books, nil
}

// Contains reports whether a book is recorded.
func (m *MemoryRegistry) Contains(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.books[id]
	return ok, nil
}

// Close is a no-op for the in-memory registry.
func (m *MemoryRegistry) Close() error { return nil }
