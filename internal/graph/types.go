package graph

import (
	"fmt"

	"github.com/vk/comfygrid/internal/nodeid"
)

// Ref points at one output slot of a node.
type Ref struct {
	Node nodeid.ID
	Slot int
}

// String renders the ref the way it appears in error messages.
func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Node, r.Slot)
}

// Meta is the optional display metadata the backend keeps next to a node.
type Meta struct {
	Title string `json:"title,omitempty"`
}

// Node is a single vertex of the document.
type Node struct {
	ClassType string
	// Inputs holds literal values (string, bool, numbers, lists) or Ref values.
	Inputs map[string]any
	Meta   *Meta
}

// NewNode creates a node with an empty input set.
func NewNode(classType string) *Node {
	return &Node{ClassType: classType, Inputs: make(map[string]any)}
}

// SetInput overwrites a single input.
func (n *Node) SetInput(name string, value any) {
	if n.Inputs == nil {
		n.Inputs = make(map[string]any)
	}
	n.Inputs[name] = value
}

// Input returns a single input value.
func (n *Node) Input(name string) (any, bool) {
	v, ok := n.Inputs[name]
	return v, ok
}

// RefInput returns the input as a Ref if it is one.
func (n *Node) RefInput(name string) (Ref, bool) {
	v, ok := n.Inputs[name]
	if !ok {
		return Ref{}, false
	}
	r, ok := v.(Ref)
	return r, ok
}

// Refs returns every reference input of the node keyed by input name.
func (n *Node) Refs() map[string]Ref {
	refs := make(map[string]Ref)
	for name, v := range n.Inputs {
		if r, ok := v.(Ref); ok {
			refs[name] = r
		}
	}
	return refs
}

// Clone deep-copies the node. Literal lists and maps are copied; other
// literals are immutable values.
func (n *Node) Clone() *Node {
	c := &Node{ClassType: n.ClassType, Inputs: make(map[string]any, len(n.Inputs))}
	for k, v := range n.Inputs {
		c.Inputs[k] = cloneValue(v)
	}
	if n.Meta != nil {
		m := *n.Meta
		c.Meta = &m
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
