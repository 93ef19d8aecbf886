// internal/nodeid/address.go
package nodeid

import (
	"fmt"
	"reflect"
	"strings"
)

// New builds an address from segments.
func New(segments ...PathSegment) *Address {
	path := make([]PathSegment, len(segments))
	copy(path, segments)
	return &Address{Path: path}
}

// String serializes the Address into its canonical path string representation.
func (a *Address) String() string {
	if a == nil {
		return ""
	}

	var sb strings.Builder
	for i, segment := range a.Path {
		if i > 0 {
			sb.WriteRune(Separator)
		}
		sb.WriteString(segment.Name)
		if segment.Index != -1 {
			sb.WriteString(fmt.Sprintf("[%d]", segment.Index))
		}
	}

	return sb.String()
}

// ID returns the document key for the address.
func (a *Address) ID() ID {
	return ID(a.String())
}

// Child returns a new address with seg appended. The receiver is not modified.
func (a *Address) Child(seg PathSegment) *Address {
	var path []PathSegment
	if a != nil {
		path = make([]PathSegment, 0, len(a.Path)+1)
		path = append(path, a.Path...)
	}
	return &Address{Path: append(path, seg)}
}

// Equal checks for deep equality between two Address pointers.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	return reflect.DeepEqual(a.Path, other.Path)
}

// HasPrefix reports whether every segment of p leads a's path.
func (a *Address) HasPrefix(p Prefix) bool {
	if p.addr == nil {
		return true
	}
	if a == nil || len(a.Path) < len(p.addr.Path) {
		return false
	}
	return reflect.DeepEqual(a.Path[:len(p.addr.Path)], p.addr.Path)
}

// MustPrefix parses raw as a prefix and panics on error. It is meant for
// static layout tables.
func MustPrefix(raw string) Prefix {
	p, err := ParsePrefix(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrefix parses raw as a prefix. An empty string yields the zero Prefix.
func ParsePrefix(raw string) (Prefix, error) {
	if raw == "" {
		return Prefix{}, nil
	}
	addr, err := Parse(raw)
	if err != nil {
		return Prefix{}, fmt.Errorf("invalid prefix: %w", err)
	}
	return Prefix{addr: addr}, nil
}

// String returns the canonical prefix text.
func (p Prefix) String() string {
	return p.addr.String()
}

// Scope places a local id (itself possibly multi-segment) under the prefix.
func (p Prefix) Scope(local string) (ID, error) {
	addr, err := Parse(local)
	if err != nil {
		return "", err
	}
	if p.addr == nil {
		return addr.ID(), nil
	}
	scoped := New(p.addr.Path...)
	scoped.Path = append(scoped.Path, addr.Path...)
	return scoped.ID(), nil
}
