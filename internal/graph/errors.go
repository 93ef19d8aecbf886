package graph

import (
	"errors"
	"fmt"

	"github.com/vk/comfygrid/internal/nodeid"
)

var (
	// ErrDanglingReference is returned when an input references a node that is
	// not part of the document.
	ErrDanglingReference = errors.New("dangling node reference")
	// ErrCycle is returned when references form a cycle.
	ErrCycle = errors.New("reference cycle")
	// ErrDuplicateNode is returned by Add when the id is already taken.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrNodeNotFound is returned by lookups on absent ids.
	ErrNodeNotFound = errors.New("node not found")
)

// ReferenceError describes one structurally invalid input.
type ReferenceError struct {
	Node  nodeid.ID
	Input string
	Ref   Ref
	Err   error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("node %q input %q -> %s: %v", e.Node, e.Input, e.Ref, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}
