package hcl_adapter

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct{}

// NewConverter creates a new HCL converter.
func NewConverter() *Converter {
	return &Converter{}
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
// Heterogeneous []any and map[string]any values become tuples and objects.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return t, nil
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(t))
		for i, e := range t {
			ev, err := c.ToCtyValue(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, e := range t {
			ev, err := c.ToCtyValue(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute '%s': %w", k, err)
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}

// ToNative converts a cty.Value into its most natural Go counterpart.
func (c *Converter) ToNative(v cty.Value) (any, error) {
	return ctyToNative(v)
}

// DecodeValues iterates through the fields of a Go struct, finds the
// corresponding value by its `cty` tag, and uses the recursive `decode`
// helper to populate it. Fields whose value is absent are left untouched.
func (c *Converter) DecodeValues(
	ctx context.Context,
	target any,
	values map[string]cty.Value,
	defs map[string]*config.InputDefinition,
) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting value decoding.", "values", len(values))

	structVal := reflect.ValueOf(target)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() || structVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct")
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	for i := 0; i < structType.NumField(); i++ {
		fieldDef := structType.Field(i)
		fieldVal := structVal.Field(i)

		if !fieldDef.IsExported() || !fieldVal.CanSet() {
			continue
		}

		tagName := strings.Split(fieldDef.Tag.Get("cty"), ",")[0]
		if tagName == "" || tagName == "-" {
			continue
		}

		val, ok := values[tagName]
		if !ok {
			continue
		}

		manifestType := val.Type()
		if def, ok := defs[tagName]; ok {
			manifestType = def.Type
		}

		if err := c.decode(ctx, val, manifestType, fieldVal.Addr().Interface()); err != nil {
			return fmt.Errorf("failed to decode value '%s': %w", tagName, err)
		}
	}
	logger.Debug("Finished value decoding successfully.")
	return nil
}
