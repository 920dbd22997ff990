// Package expr provides the boolean expression evaluators used by CONDITION
// and while-LOOP nodes.
package expr

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/juju/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.ExpressionEvaluator = &HCLEvaluator{}
)

// HCLEvaluator evaluates HCL native syntax expressions. Bindings are exposed
// as top-level variables.
//
// The restricted evaluator accepts literals, variable/attribute/index lookups,
// comparisons, arithmetic and boolean connectives. The rich one also allows
// conditionals, for expressions, splats and a small function library.
type HCLEvaluator struct {
	restricted bool
	functions  map[string]function.Function
}

// NewEvaluator returns the restricted evaluator, the engine default.
func NewEvaluator() *HCLEvaluator {
	return &HCLEvaluator{restricted: true}
}

func NewRichEvaluator() *HCLEvaluator {
	return &HCLEvaluator{
		functions: map[string]function.Function{
			"abs":        stdlib.AbsoluteFunc,
			"ceil":       stdlib.CeilFunc,
			"floor":      stdlib.FloorFunc,
			"max":        stdlib.MaxFunc,
			"min":        stdlib.MinFunc,
			"length":     stdlib.LengthFunc,
			"strlen":     stdlib.StrlenFunc,
			"upper":      stdlib.UpperFunc,
			"lower":      stdlib.LowerFunc,
			"trimspace":  stdlib.TrimSpaceFunc,
			"contains":   stdlib.ContainsFunc,
			"haskey":     stdlib.HasIndexFunc,
			"coalesce":   stdlib.CoalesceFunc,
			"jsonencode": stdlib.JSONEncodeFunc,
		},
	}
}

func (e *HCLEvaluator) Evaluate(expression string, bindings types.Data) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return false, types.NewInvalidConfigf("empty expression")
	}

	ex, diags := hclsyntax.ParseExpression([]byte(expression), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return false, types.NewInvalidConfigf("parse expression %q: %s", expression, diags.Error())
	}
	if e.restricted {
		if diags := hclsyntax.VisitAll(ex, restrictedNode); diags.HasErrors() {
			return false, types.NewInvalidConfigf("expression %q: %s", expression, diags.Error())
		}
	}

	variables, err := ToCtyVariables(bindings)
	if err != nil {
		return false, errors.Trace(err)
	}

	v, diags := ex.Value(&hcl.EvalContext{Variables: variables, Functions: e.functions})
	if diags.HasErrors() {
		return false, types.NewInvalidConfigf("evaluate expression %q: %s", expression, diags.Error())
	}
	if v.IsNull() || !v.IsWhollyKnown() {
		return false, types.NewInvalidConfigf("expression %q has no boolean value", expression)
	}

	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, types.NewInvalidConfigf("expression %q: %v", expression, err)
	}
	return b.True(), nil
}

func restrictedNode(node hclsyntax.Node) hcl.Diagnostics {
	var what string
	switch node.(type) {
	case *hclsyntax.FunctionCallExpr:
		what = "function calls"
	case *hclsyntax.ForExpr:
		what = "for expressions"
	case *hclsyntax.SplatExpr:
		what = "splat expressions"
	case *hclsyntax.ConditionalExpr:
		what = "conditional expressions"
	default:
		return nil
	}
	r := node.Range()
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  what + " are not allowed",
		Subject:  &r,
	}}
}

// ToCtyVariables converts bindings to cty values through their JSON form.
func ToCtyVariables(bindings types.Data) (map[string]cty.Value, error) {
	variables := make(map[string]cty.Value, len(bindings))
	for k, v := range bindings {
		cv, err := ToCtyValue(v)
		if err != nil {
			return nil, errors.Annotatef(err, "binding %s", k)
		}
		variables[k] = cv
	}
	return variables, nil
}

func ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, types.NewInvalidConfigf("marshal %T: %v", v, err)
	}
	ty, err := ctyjson.ImpliedType(b)
	if err != nil {
		return cty.NilVal, types.NewInvalidConfigf("imply type of %s: %v", string(b), err)
	}
	cv, err := ctyjson.Unmarshal(b, ty)
	if err != nil {
		return cty.NilVal, types.NewInvalidConfigf("convert %s: %v", string(b), err)
	}
	return cv, nil
}
