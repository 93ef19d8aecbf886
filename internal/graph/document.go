package graph

import (
	"fmt"
	"sort"

	"github.com/vk/comfygrid/internal/nodeid"
)

// Document is a computation graph keyed by node id.
type Document struct {
	nodes map[nodeid.ID]*Node
}

// New creates an empty document.
func New() *Document {
	return &Document{nodes: make(map[nodeid.ID]*Node)}
}

// Len returns the number of nodes.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.nodes)
}

// IsEmpty reports whether the document has no nodes.
func (d *Document) IsEmpty() bool {
	return d.Len() == 0
}

// Node looks a node up by id.
func (d *Document) Node(id nodeid.ID) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Add inserts a node under a fresh id.
func (d *Document) Add(id nodeid.ID, n *Node) error {
	if _, exists := d.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	d.nodes[id] = n
	return nil
}

// Set inserts or replaces a node.
func (d *Document) Set(id nodeid.ID, n *Node) {
	d.nodes[id] = n
}

// SetInput overwrites one input of an existing node.
func (d *Document) SetInput(id nodeid.ID, name string, value any) error {
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.SetInput(name, value)
	return nil
}

// IDs returns all node ids in lexical order.
func (d *Document) IDs() []nodeid.ID {
	ids := make([]nodeid.ID, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	c := New()
	for id, n := range d.nodes {
		c.nodes[id] = n.Clone()
	}
	return c
}

// Follow walks from start through the named input of each visited node,
// returning every ref visited including start. The walk ends at the first node
// that lacks the input as a ref, at a dangling ref, or after limit hops.
func (d *Document) Follow(start Ref, input string, limit int) []Ref {
	path := []Ref{start}
	cur := start
	for i := 0; i < limit; i++ {
		n, ok := d.nodes[cur.Node]
		if !ok {
			break
		}
		next, ok := n.RefInput(input)
		if !ok {
			break
		}
		path = append(path, next)
		cur = next
	}
	return path
}

// Validate checks that every reference resolves and that no reference cycle
// exists. Nodes are visited in id order so the first reported error is stable.
func (d *Document) Validate() error {
	for _, id := range d.IDs() {
		n := d.nodes[id]
		names := make([]string, 0, len(n.Inputs))
		for name := range n.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r, ok := n.Inputs[name].(Ref)
			if !ok {
				continue
			}
			if _, exists := d.nodes[r.Node]; !exists {
				return &ReferenceError{Node: id, Input: name, Ref: r, Err: ErrDanglingReference}
			}
			if r.Slot < 0 {
				return &ReferenceError{Node: id, Input: name, Ref: r, Err: fmt.Errorf("%w: negative slot", ErrDanglingReference)}
			}
		}
	}
	return d.detectCycles()
}

// detectCycles checks for circular references using DFS.
func (d *Document) detectCycles() error {
	visiting := make(map[nodeid.ID]bool)
	visited := make(map[nodeid.ID]bool)

	var visit func(id nodeid.ID) error
	visit = func(id nodeid.ID) error {
		visiting[id] = true
		for _, r := range d.nodes[id].Refs() {
			if visiting[r.Node] {
				return fmt.Errorf("%w involving '%s'", ErrCycle, r.Node)
			}
			if !visited[r.Node] {
				if err := visit(r.Node); err != nil {
					return err
				}
			}
		}
		delete(visiting, id)
		visited[id] = true
		return nil
	}

	for _, id := range d.IDs() {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
