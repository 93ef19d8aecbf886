package comfyapi

import (
	"errors"
	"fmt"
)

// ErrEmptyPromptID is returned when the backend acknowledges a prompt
// without an id.
var ErrEmptyPromptID = errors.New("backend returned an empty prompt id")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: backend answered %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// IsAPIError reports whether err wraps an *APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
