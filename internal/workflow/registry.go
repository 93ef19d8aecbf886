package workflow

import (
	"context"
	"fmt"
	"reflect"

	"dario.cat/mergo"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Values are resolved inputs keyed by input id, each converted to its
// declared type.
type Values map[string]cty.Value

// Registry lists workflow definitions in declaration order.
type Registry struct {
	defs []*config.WorkflowDefinition
	conv config.Converter
}

// NewRegistry creates a registry over the workflows of a loaded model.
func NewRegistry(model *config.Model, conv config.Converter) *Registry {
	return &Registry{defs: model.Workflows, conv: conv}
}

// List returns every definition in declaration order.
func (r *Registry) List() []*config.WorkflowDefinition {
	out := make([]*config.WorkflowDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Get looks a definition up by id.
func (r *Registry) Get(id string) (*config.WorkflowDefinition, bool) {
	for _, d := range r.defs {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// Converter returns the converter used to coerce values.
func (r *Registry) Converter() config.Converter {
	return r.conv
}

// Resolve fills defaults for missing inputs, coerces every value to its
// declared type and checks ranges and counts. Unknown input ids are rejected.
// A nil value counts as not supplied.
func (r *Registry) Resolve(ctx context.Context, id string, inputs map[string]any) (Values, error) {
	def, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, id)
	}
	_, logger := ctxlog.With(ctx, "workflow", id)

	decls := def.InputMap()
	supplied := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if _, known := decls[k]; !known {
			return nil, &InputError{Workflow: id, Input: k, Reason: "not declared by the workflow"}
		}
		if v != nil {
			supplied[k] = normalizeSlice(v)
		}
	}

	merged := make(map[string]any, len(def.Inputs))
	for _, in := range def.Inputs {
		if in.Default == nil {
			continue
		}
		native, err := r.conv.ToNative(*in.Default)
		if err != nil {
			return nil, fmt.Errorf("workflow '%s': default of '%s': %w", id, in.ID, err)
		}
		merged[in.ID] = native
	}
	logger.Debug("Merging inputs with defaults.", "supplied", len(supplied), "defaults", len(merged))
	if err := mergo.Merge(&merged, supplied, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return nil, fmt.Errorf("workflow '%s': merging inputs: %w", id, err)
	}

	out := make(Values, len(merged))
	for _, in := range def.Inputs {
		raw, present := merged[in.ID]
		if !present {
			if in.Required {
				return nil, &InputError{Workflow: id, Input: in.ID, Reason: "is required"}
			}
			continue
		}
		val, err := r.conv.ToCtyValue(raw)
		if err != nil {
			return nil, &InputError{Workflow: id, Input: in.ID, Reason: err.Error()}
		}
		val, err = convert.Convert(val, in.Type)
		if err != nil {
			return nil, &InputError{Workflow: id, Input: in.ID, Reason: fmt.Sprintf("expected %s: %s", in.Type.FriendlyName(), err)}
		}
		if err := check(in, val); err != nil {
			return nil, &InputError{Workflow: id, Input: in.ID, Reason: err.Error()}
		}
		out[in.ID] = val
	}
	return out, nil
}

func check(in *config.InputDefinition, val cty.Value) error {
	if val.IsNull() {
		if in.Required {
			return fmt.Errorf("is required")
		}
		return nil
	}
	switch in.Kind {
	case config.KindNumber:
		bf := val.AsBigFloat()
		if in.Integer && !bf.IsInt() {
			return fmt.Errorf("must be a whole number, got %s", bf.Text('g', -1))
		}
		if in.Min != nil && val.LessThan(cty.NumberFloatVal(*in.Min)).True() {
			return fmt.Errorf("must be at least %v, got %s", *in.Min, bf.Text('g', -1))
		}
		if in.Max != nil && val.GreaterThan(cty.NumberFloatVal(*in.Max)).True() {
			return fmt.Errorf("must be at most %v, got %s", *in.Max, bf.Text('g', -1))
		}
	case config.KindImage:
		if in.Required && val.AsString() == "" {
			return fmt.Errorf("is required")
		}
	case config.KindImageArray:
		n := val.LengthInt()
		if in.MaxCount > 0 && n > in.MaxCount {
			return fmt.Errorf("accepts at most %d images, got %d", in.MaxCount, n)
		}
		if n < in.MinCount {
			return fmt.Errorf("needs at least %d images, got %d", in.MinCount, n)
		}
		for it := val.ElementIterator(); it.Next(); {
			_, e := it.Element()
			if e.IsNull() || e.AsString() == "" {
				return fmt.Errorf("image names must not be empty")
			}
		}
	}
	return nil
}

// normalizeSlice turns typed slices such as []string into []any so they merge
// cleanly over list defaults, which decode as []any.
func normalizeSlice(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return v
	}
	if _, ok := v.([]any); ok {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
