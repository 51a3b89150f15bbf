package index

import (
	"errors"
	"fmt"
)

// ErrInvalidK is returned by Search when k is not positive.
var ErrInvalidK = errors.New("k must be a positive integer")

// ErrInvalidDimension occurs when an index is created with a non-positive
// dimensionality.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension %d, must be positive", e.Dimension)
}

// ErrDimensionMismatch occurs when a vector's length does not match the index
// dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int

	// Position is the offending entry's position within a batch, when the
	// mismatch was found during Add.
	Position int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrCorruptSnapshot occurs when a persisted index cannot be read back.
// Callers treat it as a signal to quarantine the on-disk state and start
// from an empty index.
type ErrCorruptSnapshot struct {
	Reason string
	Err    error
}

func (e *ErrCorruptSnapshot) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt snapshot: %s", e.Reason)
}

func (e *ErrCorruptSnapshot) Unwrap() error { return e.Err }
