package hcl_adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	builtin fs.FS
}

// NewLoader creates a new HCL configuration loader. Every .hcl file in
// builtin (may be nil) is loaded before the user-supplied paths.
func NewLoader(builtin fs.FS) *Loader {
	return &Loader{builtin: builtin}
}

// Load orchestrates the entire HCL configuration loading process. It is
// agnostic to the origin of the paths and parses any valid block from any file.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	model := &config.Model{Settings: config.DefaultSettings()}
	parser := hclparse.NewParser()

	if l.builtin != nil {
		files, err := fsutil.FindFilesByExtension(l.builtin, ".", ".hcl")
		if err != nil {
			return nil, fmt.Errorf("failed to list built-in manifests: %w", err)
		}
		for _, f := range files {
			if err := l.loadFile(ctx, parser, l.builtin, f, path.Join("builtin", f), model); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		fsys, root, err := fsutil.OpenPath(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("Configured path does not exist, skipping.", "path", p)
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", p, err)
		}
		files, err := fsutil.FindFilesByExtension(fsys, root, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("error walking path %s: %w", p, err)
		}
		logger.Debug("Discovered HCL files.", "path", p, "count", len(files))
		for _, f := range files {
			display := p
			if root == "." {
				display = filepath.Join(p, filepath.FromSlash(f))
			}
			if err := l.loadFile(ctx, parser, fsys, f, display, model); err != nil {
				return nil, err
			}
		}
	}

	logger.Debug("HCL loading complete.", "workflows", len(model.Workflows))
	return model, nil
}

func (l *Loader) loadFile(ctx context.Context, parser *hclparse.Parser, fsys fs.FS, name, display string, model *config.Model) error {
	src, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read HCL file %s: %w", display, err)
	}
	hclFile, diags := parser.ParseHCL(src, display)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", display, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", display, diags)
	}

	for _, wf := range root.Workflows {
		def, err := translateWorkflow(ctx, wf)
		if err != nil {
			return fmt.Errorf("in %s: %w", display, err)
		}
		if _, exists := model.Workflow(def.ID); exists {
			ctxlog.FromContext(ctx).Debug("Workflow definition overridden.", "workflow", def.ID, "file", display)
		}
		model.PutWorkflow(def)
	}
	if err := applySettings(model.Settings, &root); err != nil {
		return fmt.Errorf("in %s: %w", display, err)
	}
	return nil
}
