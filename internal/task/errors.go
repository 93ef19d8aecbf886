package task

import "errors"

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicate is returned when inserting a record whose ID or job ID
	// already exists.
	ErrDuplicate = errors.New("task already exists")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("task store closed")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
