package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWorkflow is returned for a workflow id with no definition.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrInvalidInput is wrapped by every InputError.
	ErrInvalidInput = errors.New("invalid input")
)

// InputError reports a value that does not satisfy its declaration.
type InputError struct {
	Workflow string
	Input    string
	Reason   string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("workflow '%s': input '%s': %s", e.Workflow, e.Input, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }
