package config

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads configuration from the given paths and translates it into
	// the format-agnostic model. Built-in definitions are loaded first so
	// that user files can override them.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Converter is the bridge between loosely typed user values, the cty values
// the workflow registry validates, and the Go types the binder consumes.
type Converter interface {
	// ToCtyValue converts a native Go value (string, number, bool, slices of
	// those) into its equivalent cty.Value.
	ToCtyValue(v any) (cty.Value, error)

	// ToNative converts a cty.Value into its most natural Go counterpart.
	ToNative(v cty.Value) (any, error)

	// DecodeValues populates the `cty`-tagged fields of target from values,
	// converting each to the type declared by its input definition.
	DecodeValues(ctx context.Context, target any, values map[string]cty.Value, defs map[string]*InputDefinition) error
}
