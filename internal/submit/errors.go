package submit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when the event stream did not connect.
	ErrNotConnected = errors.New("event stream not connected")
	// ErrRejected is returned when the backend refused the graph.
	ErrRejected = errors.New("backend rejected the prompt")
	// ErrEmptyGraph is returned for a nil or empty graph.
	ErrEmptyGraph = errors.New("graph is empty")
)

// SubmissionError reports which step of a submission failed.
type SubmissionError struct {
	// Op is one of "validate", "connect", "queue" or "record".
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit: %s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsSubmissionError reports whether err is or wraps a SubmissionError.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
