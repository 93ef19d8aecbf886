// internal/nodeid/parser.go
package nodeid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidID reports a node key that does not follow the address grammar.
var ErrInvalidID = errors.New("invalid node id")

// Parse reads a node key such as `76`, `75:63` or `dynamic_ref[2]:vae`.
func Parse(rawID string) (*Address, error) {
	if rawID == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidID)
	}

	parts := strings.Split(rawID, string(Separator))
	addr := &Address{Path: make([]PathSegment, 0, len(parts))}
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidID, rawID, err)
		}
		addr.Path = append(addr.Path, seg)
	}
	return addr, nil
}

// ParseID parses a document key.
func ParseID(id ID) (*Address, error) {
	return Parse(string(id))
}

// parseSegment reads `name` or `name[index]`.
func parseSegment(s string) (PathSegment, error) {
	if s == "" {
		return PathSegment{}, errors.New("empty segment")
	}
	name, rest, indexed := strings.Cut(s, "[")
	if err := checkName(name); err != nil {
		return PathSegment{}, err
	}
	if !indexed {
		return NewPathSegment(name), nil
	}
	digits, ok := strings.CutSuffix(rest, "]")
	if !ok || digits == "" {
		return PathSegment{}, fmt.Errorf("segment %q: unterminated index", s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return PathSegment{}, fmt.Errorf("segment %q: index must be a non-negative integer", s)
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return PathSegment{}, fmt.Errorf("segment %q: %w", s, err)
	}
	return NewPathSegmentWithIndex(name, index), nil
}

// checkName accepts letters, digits, `_`, `-` and `.`, but not the
// path-like names `.`, `..` and `-`.
func checkName(name string) error {
	switch name {
	case "":
		return errors.New("empty segment name")
	case ".", "..", "-":
		return fmt.Errorf("reserved segment name %q", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("segment name %q: unexpected %q", name, r)
		}
	}
	return nil
}
