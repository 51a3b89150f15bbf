package bookbrain

import (
	"errors"
	"fmt"

	"github.com/jrgochan/bookbrain/bookstore"
	"github.com/jrgochan/bookbrain/index"
)

var (
	// ErrInvalidK is returned when a requested result count is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotIndexed is returned when removing a book that is not in the
	// knowledge base.
	ErrNotIndexed = errors.New("book is not indexed")

	// ErrBookNotFound is returned when the content source does not know the
	// requested book.
	ErrBookNotFound = errors.New("book not found")

	// ErrClosed is returned by operations on a closed knowledge base.
	ErrClosed = errors.New("knowledge base is closed")
)

// ErrDimensionMismatch indicates that a vector's length does not match the
// index dimensionality, typically after switching embedding providers. The
// affected index cannot accept the vector; a Rebuild with the new provider
// is the recovery path.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild required after provider change)", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError normalizes subpackage errors into this package's taxonomy
// at the API boundary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	var bnf *bookstore.ErrBookNotFound
	if errors.As(err, &bnf) {
		return fmt.Errorf("%w: %w", ErrBookNotFound, err)
	}

	return err
}
