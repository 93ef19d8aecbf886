package binder

import (
	"errors"
	"fmt"

	"github.com/vk/comfygrid/internal/workflow"
)

var (
	// ErrUnknownWorkflow is returned for a workflow id without a layout or
	// definition. Bind still hands back an empty document in that case.
	ErrUnknownWorkflow = workflow.ErrUnknownWorkflow
	// ErrInvalidInput wraps input resolution failures.
	ErrInvalidInput = workflow.ErrInvalidInput
	// ErrMissingNode is returned when a node the reference chain needs is
	// absent from the template.
	ErrMissingNode = errors.New("required node missing from template")
)

// ConstructionError reports a failure while building a graph document.
type ConstructionError struct {
	Workflow string
	Op       string
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build graph for workflow %q: %s: %v", e.Workflow, e.Op, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// IsConstructionError reports whether err is or wraps a ConstructionError.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}
