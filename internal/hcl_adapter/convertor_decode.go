package hcl_adapter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ctyValueType = reflect.TypeOf(cty.Value{})

// decode is a recursive function that populates a Go value from a cty.Value,
// guided by the declared cty.Type of the input.
func (c *Converter) decode(ctx context.Context, val cty.Value, manifestType cty.Type, goVal any) error {
	goPtr := reflect.ValueOf(goVal).Elem()
	goType := goPtr.Type()
	logger := ctxlog.FromContext(ctx).With("go_kind", goType.Kind().String())

	if goType == ctyValueType {
		logger.Debug("Target is cty.Value, performing direct assignment.")
		if val.IsKnown() {
			goPtr.Set(reflect.ValueOf(val))
		}
		return nil
	}

	if !val.IsKnown() || val.IsNull() {
		logger.Debug("Skipping decode for null or unknown value.")
		return nil
	}

	switch goType.Kind() {
	case reflect.Ptr:
		// Optional scalars (e.g. *float64) are allocated on demand.
		elem := reflect.New(goType.Elem())
		if err := c.decode(ctx, val, manifestType, elem.Interface()); err != nil {
			return err
		}
		goPtr.Set(elem)
		return nil

	case reflect.Interface:
		logger.Debug("Decoding as interface (any).")
		nativeVal, err := ctyToNative(val)
		if err != nil {
			return err
		}
		if nativeVal != nil {
			goPtr.Set(reflect.ValueOf(nativeVal))
		}
		return nil

	case reflect.Map:
		return c.decodeMap(ctx, val, manifestType, goPtr)

	case reflect.Slice:
		return c.decodeSlice(ctx, val, manifestType, goPtr)

	default:
		logger.Debug("Decoding as primitive.")
		target := manifestType
		if target == cty.DynamicPseudoType {
			target = val.Type()
		}
		convertedVal, err := convert.Convert(val, target)
		if err != nil {
			return fmt.Errorf("cannot convert value of type %s to declared type %s: %w", val.Type().FriendlyName(), target.FriendlyName(), err)
		}
		return gocty.FromCtyValue(convertedVal, goVal)
	}
}

// decodeSlice converts lists, sets and tuples into a Go slice element by element.
func (c *Converter) decodeSlice(ctx context.Context, val cty.Value, manifestType cty.Type, goPtr reflect.Value) error {
	goType := goPtr.Type()
	ty := val.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return fmt.Errorf("type mismatch: cannot decode cty.%s into Go slice %s", ty.FriendlyName(), goType.String())
	}

	var elemType cty.Type
	switch {
	case manifestType.IsListType() || manifestType.IsSetType():
		elemType = manifestType.ElementType()
	case manifestType == cty.DynamicPseudoType:
		elemType = cty.DynamicPseudoType
	default:
		return fmt.Errorf("type mismatch: declared type %s cannot fill Go slice %s", manifestType.FriendlyName(), goType.String())
	}

	newSlice := reflect.MakeSlice(goType, val.LengthInt(), val.LengthInt())
	it := val.ElementIterator()
	for i := 0; it.Next(); i++ {
		_, elemVal := it.Element()
		if err := c.decode(ctx, elemVal, elemType, newSlice.Index(i).Addr().Interface()); err != nil {
			return fmt.Errorf("in slice element %d: %w", i, err)
		}
	}
	goPtr.Set(newSlice)
	return nil
}

// decodeMap handles the recursive decoding of a cty.Value into a Go map. It
// contains a fast path for generic map[string]any and a deep-decode path for
// typed maps.
func (c *Converter) decodeMap(ctx context.Context, val cty.Value, manifestType cty.Type, goPtr reflect.Value) error {
	if goPtr.Type() == reflect.TypeOf((map[string]any)(nil)) {
		nativeVal, err := ctyToNative(val)
		if err != nil {
			return err
		}
		if m, ok := nativeVal.(map[string]any); ok {
			goPtr.Set(reflect.ValueOf(m))
			return nil
		}
		return fmt.Errorf("type mismatch: cannot decode cty.%s into map[string]any", val.Type().FriendlyName())
	}

	ty := val.Type()
	if !ty.IsMapType() && !ty.IsObjectType() {
		return fmt.Errorf("type mismatch: cannot decode cty.%s into Go map %s", ty.FriendlyName(), goPtr.Type().String())
	}

	newMap := reflect.MakeMap(goPtr.Type())
	it := val.ElementIterator()
	for it.Next() {
		key, elemVal := it.Element()
		keyStr := key.AsString()

		elemType := elemVal.Type()
		if manifestType.IsMapType() {
			elemType = manifestType.ElementType()
		}

		newElemPtr := reflect.New(goPtr.Type().Elem())
		if err := c.decode(ctx, elemVal, elemType, newElemPtr.Interface()); err != nil {
			return fmt.Errorf("failed to decode map element '%s': %w", keyStr, err)
		}
		newMap.SetMapIndex(reflect.ValueOf(keyStr), newElemPtr.Elem())
	}
	goPtr.Set(newMap)
	return nil
}
