package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/workflow"
	"github.com/zclconf/go-cty/cty"
)

// TemplateLoader hands out fresh copies of named templates.
type TemplateLoader interface {
	Load(ctx context.Context, name string) (*graph.Document, error)
}

// SeedSource draws a replacement for a non-positive seed. It must return a
// value in [1, math.MaxInt64].
type SeedSource func() int64

// RandomSeed draws uniformly from [1, math.MaxInt64].
func RandomSeed() int64 {
	return rand.Int64N(math.MaxInt64) + 1
}

// Option configures a Binder.
type Option func(*Binder)

// WithSeedSource replaces the random seed source.
func WithSeedSource(src SeedSource) Option {
	return func(b *Binder) { b.seed = src }
}

// WithLayouts replaces the layout table.
func WithLayouts(layouts map[string]*Layout) Option {
	return func(b *Binder) { b.layouts = layouts }
}

// Binder builds submission-ready documents from workflow inputs.
type Binder struct {
	registry  *workflow.Registry
	templates TemplateLoader
	layouts   map[string]*Layout
	seed      SeedSource
}

// New creates a binder over the default layout table.
func New(registry *workflow.Registry, templates TemplateLoader, opts ...Option) *Binder {
	b := &Binder{
		registry:  registry,
		templates: templates,
		layouts:   DefaultLayouts(),
		seed:      RandomSeed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// params are the scalar inputs every layout knows how to place. Pointer
// fields stay nil when the workflow does not declare the input.
type params struct {
	Prompt *string  `cty:"prompt"`
	Seed   *int64   `cty:"seed"`
	Steps  *int     `cty:"steps"`
	CFG    *float64 `cty:"cfg"`
	Width  *int     `cty:"width"`
	Height *int     `cty:"height"`
}

// Bind resolves inputs against the workflow definition and writes them into
// a fresh copy of the matching template. A non-positive seed is replaced
// with a random one on every call. For an unknown workflow it returns an
// empty document together with ErrUnknownWorkflow; on any other failure the
// document is nil.
func (b *Binder) Bind(ctx context.Context, workflowID string, inputs map[string]any) (*graph.Document, error) {
	ctx, logger := ctxlog.With(ctx, "workflow", workflowID)

	layout, ok := b.layouts[workflowID]
	if !ok {
		return graph.New(), &ConstructionError{Workflow: workflowID, Op: "lookup", Err: ErrUnknownWorkflow}
	}
	def, ok := b.registry.Get(workflowID)
	if !ok {
		return graph.New(), &ConstructionError{Workflow: workflowID, Op: "lookup", Err: ErrUnknownWorkflow}
	}

	values, err := b.registry.Resolve(ctx, workflowID, inputs)
	if err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "resolve inputs", Err: err}
	}

	conv := b.registry.Converter()
	var p params
	if err := conv.DecodeValues(ctx, &p, values, def.InputMap()); err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "decode inputs", Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	images, err := referenceImages(values, layout.ReferenceInput, conv.ToNative)
	if err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "decode inputs", Err: err}
	}

	variant, err := layout.Select(images)
	if err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "select variant", Err: err}
	}
	logger.Debug("Selected template variant.", "template", variant.Template, "prefix", variant.Prefix.String(), "references", len(images))

	doc, err := b.templates.Load(ctx, variant.Template)
	if err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "load template", Err: err}
	}

	w := &writer{doc: doc, variant: variant, logger: logger}
	if p.Prompt != nil {
		w.write(RolePrompt, *p.Prompt)
	}
	seed := int64(0)
	if p.Seed != nil {
		seed = *p.Seed
	}
	if seed <= 0 {
		seed = b.seed()
		logger.Debug("Drew random seed.", "seed", seed)
	}
	w.write(RoleSeed, seed)
	if p.Steps != nil {
		w.write(RoleSteps, *p.Steps)
	}
	if p.CFG != nil {
		w.write(RoleCFG, *p.CFG)
	}
	if p.Width != nil && p.Height != nil {
		w.write(RoleSize, *p.Width, *p.Height)
		w.write(RoleLatent, *p.Width, *p.Height)
	}
	if w.err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "bind parameters", Err: w.err}
	}

	if len(images) > 0 {
		if _, err := BuildReferenceChain(doc, variant, images); err != nil {
			return nil, &ConstructionError{Workflow: workflowID, Op: "build reference chain", Err: err}
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, &ConstructionError{Workflow: workflowID, Op: "validate", Err: err}
	}
	logger.Debug("Graph bound.", "nodes", doc.Len())
	return doc, nil
}

func referenceImages(values workflow.Values, input string, toNative func(v cty.Value) (any, error)) ([]string, error) {
	if input == "" {
		return nil, nil
	}
	val, ok := values[input]
	if !ok || val.IsNull() {
		return nil, nil
	}
	native, err := toNative(val)
	if err != nil {
		return nil, err
	}
	list, _ := native.([]any)
	images := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not an image name", ErrInvalidInput, input, i)
		}
		images = append(images, s)
	}
	return images, nil
}

// writer applies role values to a document, remembering the first error.
type writer struct {
	doc     *graph.Document
	variant Variant
	logger  *slog.Logger
	err     error
}

func (w *writer) write(role Role, values ...any) {
	if w.err != nil {
		return
	}
	id, binding, ok, err := w.variant.NodeID(role)
	if err != nil {
		w.err = fmt.Errorf("role %s: %w", role, err)
		return
	}
	if !ok {
		w.logger.Debug("Layout has no node for role, skipping.", "role", role.String())
		return
	}
	if len(binding.Fields) != len(values) {
		w.err = fmt.Errorf("role %s binds %d fields, got %d values", role, len(binding.Fields), len(values))
		return
	}
	for i, field := range binding.Fields {
		err := w.doc.SetInput(id, field, values[i])
		if errors.Is(err, graph.ErrNodeNotFound) {
			w.logger.Debug("Template lacks role node, skipping.", "role", role.String(), "node", id)
			return
		}
		if err != nil {
			w.err = err
			return
		}
	}
}
