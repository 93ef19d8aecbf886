// internal/nodeid/types.go
package nodeid

// ID is the canonical string key of a node in a graph document.
type ID string

// String returns the raw key.
func (id ID) String() string {
	return string(id)
}

// Separator joins the segments of an address.
const Separator = ':'

// PathSegment represents a single component of an address path, e.g., `name[index]`.
type PathSegment struct {
	Name  string
	Index int // -1 indicates no index is present.
}

// NewPathSegment creates a new path segment without an index.
func NewPathSegment(name string) PathSegment {
	return PathSegment{Name: name, Index: -1}
}

// NewPathSegmentWithIndex creates a new path segment that includes an index.
func NewPathSegmentWithIndex(name string, index int) PathSegment {
	return PathSegment{Name: name, Index: index}
}

// HasIndex returns true if the path segment has an explicit index.
func (ps PathSegment) HasIndex() bool {
	return ps.Index != -1
}

// Address is the structured representation of a unique node identifier.
// It is modeled as a path, broken into segments.
type Address struct {
	Path []PathSegment
}

// Prefix scopes the nodes of one template variant. The zero Prefix scopes
// nothing: Scope returns the local id unchanged.
type Prefix struct {
	addr *Address
}
