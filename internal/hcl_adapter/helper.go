package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// isExprDefined checks if an HCL expression was actually present in the source
// code. The HCL decoder often populates optional fields with non-nil, zero-width
// expression objects, so a simple nil check is insufficient.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	logger := ctxlog.FromContext(ctx)

	if expr == nil {
		logger.Debug("Expression is nil, considering it undefined.", "attribute", attrName)
		return false
	}

	// A real attribute occupies bytes in the file, while a placeholder for an
	// omitted optional attribute has a zero-width range.
	exprRange := expr.Range()
	isDefined := exprRange.End.Byte > exprRange.Start.Byte

	logger.Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", exprRange.String(),
		"is_defined", isDefined,
	)

	return isDefined
}

// translateInputDefinition processes a single HCL input block, handling its
// type, default value and kind-specific constraints.
func translateInputDefinition(ctx context.Context, in *InputBlock, workflowID string) (*config.InputDefinition, error) {
	ctx, _ = ctxlog.With(ctx, "input", in.ID)

	ty, kind := cty.String, config.KindText
	if isExprDefined(ctx, in.Type, "type") {
		var err error
		ty, kind, err = translateType(ctx, in.Type)
		if err != nil {
			return nil, fmt.Errorf("in workflow '%s', input '%s': %w", workflowID, in.ID, err)
		}
	}

	var defaultVal *cty.Value
	if isExprDefined(ctx, in.Default, "default") {
		val, diags := in.Default.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid default value for input '%s' in workflow '%s': %w", in.ID, workflowID, diags)
		}
		if !val.IsNull() {
			converted, err := convert.Convert(val, ty)
			if err != nil {
				return nil, fmt.Errorf("default value for input '%s' in workflow '%s' is not a %s: %w", in.ID, workflowID, ty.FriendlyName(), err)
			}
			defaultVal = &converted
		}
	}

	required := defaultVal == nil && kind != config.KindImageArray
	if in.Required != nil {
		required = *in.Required
	}

	if in.Min != nil && in.Max != nil && *in.Min > *in.Max {
		return nil, fmt.Errorf("input '%s' in workflow '%s': min %v is greater than max %v", in.ID, workflowID, *in.Min, *in.Max)
	}
	if in.MinCount < 0 || in.MaxCount < 0 {
		return nil, fmt.Errorf("input '%s' in workflow '%s': counts must not be negative", in.ID, workflowID)
	}
	if in.MaxCount > 0 && in.MinCount > in.MaxCount {
		return nil, fmt.Errorf("input '%s' in workflow '%s': min_count %d is greater than max_count %d", in.ID, workflowID, in.MinCount, in.MaxCount)
	}

	label := in.Label
	if label == "" {
		label = in.ID
	}

	return &config.InputDefinition{
		ID:          in.ID,
		Label:       label,
		Description: in.Description,
		Kind:        kind,
		Type:        ty,
		Required:    required,
		Default:     defaultVal,
		Multiline:   in.Multiline,
		Min:         in.Min,
		Max:         in.Max,
		Integer:     in.Integer,
		HasMask:     in.HasMask,
		MinCount:    in.MinCount,
		MaxCount:    in.MaxCount,
	}, nil
}
