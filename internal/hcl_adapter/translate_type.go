// This file contains the logic for parsing HCL type expressions (e.g., `string`,
// `list(image)`) into their corresponding cty.Type objects and input kinds.

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// translateType converts an input's type expression into the cty.Type that
// values are coerced to and the input kind shown to users. Images travel as
// backend file names, so `image` is a string and `list(image)` a list of them.
func translateType(ctx context.Context, expr hcl.Expression) (cty.Type, config.InputKind, error) {
	if keyword, ok := typeKeyword(expr); ok && keyword == "image" {
		return cty.String, config.KindImage, nil
	}
	if call, ok := expr.(*hclsyntax.FunctionCallExpr); ok && call.Name == "list" && len(call.Args) == 1 {
		if keyword, ok := typeKeyword(call.Args[0]); ok && keyword == "image" {
			return cty.List(cty.String), config.KindImageArray, nil
		}
	}

	ty, err := typeExprToCtyType(ctx, expr)
	if err != nil {
		return cty.DynamicPseudoType, 0, err
	}
	switch ty {
	case cty.String:
		return ty, config.KindText, nil
	case cty.Number:
		return ty, config.KindNumber, nil
	case cty.Bool:
		return ty, config.KindBool, nil
	default:
		return cty.DynamicPseudoType, 0, fmt.Errorf("unsupported input type %s", ty.FriendlyName())
	}
}

func typeKeyword(expr hcl.Expression) (string, bool) {
	trav, ok := expr.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(trav.Traversal) != 1 {
		return "", false
	}
	return trav.Traversal.RootName(), true
}

// typeExprToCtyType converts an HCL type expression into its cty.Type equivalent.
func typeExprToCtyType(ctx context.Context, expr hcl.Expression) (cty.Type, error) {
	logger := ctxlog.FromContext(ctx)

	if expr == nil {
		logger.Debug("Type expression is nil, defaulting to any.")
		return cty.DynamicPseudoType, nil
	}

	switch v := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		logger.Debug("Parsing type expression as a function call.", "call", v.Name)

		if len(v.Args) != 1 {
			return cty.DynamicPseudoType, fmt.Errorf("type constructors (list, map, set) require exactly one argument, got %d", len(v.Args))
		}

		elementType, err := typeExprToCtyType(ctx, v.Args[0])
		if err != nil {
			return cty.DynamicPseudoType, err
		}
		if elementType == cty.DynamicPseudoType {
			return cty.DynamicPseudoType, fmt.Errorf("collection types cannot contain type 'any'")
		}

		switch v.Name {
		case "list":
			return cty.List(elementType), nil
		case "map":
			return cty.Map(elementType), nil
		case "set":
			return cty.Set(elementType), nil
		default:
			return cty.DynamicPseudoType, fmt.Errorf("unknown type constructor function %q", v.Name)
		}

	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return cty.DynamicPseudoType, fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		rootName := v.Traversal.RootName()
		logger.Debug("Parsing type expression as a primitive.", "keyword", rootName)
		switch rootName {
		case "string":
			return cty.String, nil
		case "number":
			return cty.Number, nil
		case "bool":
			return cty.Bool, nil
		case "any":
			return cty.DynamicPseudoType, nil
		default:
			return cty.DynamicPseudoType, fmt.Errorf("unknown primitive type %q", rootName)
		}

	default:
		return cty.DynamicPseudoType, fmt.Errorf("unsupported expression for type definition: %T", v)
	}
}
