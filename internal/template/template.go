// Package template loads named graph templates. Built-in templates may be
// shadowed by files in an overlay directory. Parsed documents are cached and
// every caller receives its own deep copy.
package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/graph"
)

// ErrTemplateNotFound is returned when no source holds the named template.
var ErrTemplateNotFound = errors.New("template not found")

// LoadError reports a template that exists but cannot be read or parsed.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store resolves template names to documents.
type Store struct {
	sources []fs.FS // searched in order; overlays first

	mu    sync.Mutex
	cache map[string]*graph.Document
}

// NewStore creates a store over the built-in templates and any number of
// overlays, which take precedence in the order given.
func NewStore(builtin fs.FS, overlays ...fs.FS) *Store {
	sources := make([]fs.FS, 0, len(overlays)+1)
	for _, o := range overlays {
		if o != nil {
			sources = append(sources, o)
		}
	}
	if builtin != nil {
		sources = append(sources, builtin)
	}
	return &Store{sources: sources, cache: make(map[string]*graph.Document)}
}

// Load returns a fresh copy of the named template. The name excludes the
// .json extension.
func (s *Store) Load(ctx context.Context, name string) (*graph.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.cache[name]; ok {
		return doc.Clone(), nil
	}

	logger := ctxlog.FromContext(ctx).With("template", name)
	file := name + ".json"
	if !fs.ValidPath(file) {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	for i, src := range s.sources {
		data, err := fs.ReadFile(src, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		doc, err := graph.Parse(data)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		logger.Debug("Template parsed.", "source", i, "nodes", doc.Len())
		s.cache[name] = doc
		return doc.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
}
