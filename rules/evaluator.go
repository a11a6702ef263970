package rules

import (
	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/placeholder"
)

// EvaluateExpression evaluates expr against data. Evaluation is total: every
// failure mode is converted into an error return, nothing escapes past this
// boundary.
func (en *Engine) EvaluateExpression(expr *Expression, data map[string]any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = enginerr.Newf(enginerr.TypeExpression, "panic during expression evaluation: %v", r)
		}
	}()
	return en.evalExpr(expr, data)
}

func (en *Engine) evalExpr(expr *Expression, data map[string]any) (bool, error) {
	if expr == nil {
		return true, nil
	}

	switch expr.kind {
	case kindEmpty:
		return true, nil

	case kindComparison:
		// No type coercion here: the field is looked up as-is.
		actual, _ := placeholder.Lookup(expr.Field, data)
		return applyOperator(expr.Operator, actual, expr.Value)

	case kindAnd:
		// All children are evaluated, but the first child error aborts
		// aggregation and propagates as the composite's error.
		all := true
		for _, child := range expr.Children {
			ok, err := en.evalExpr(child, data)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
			}
		}
		return all, nil

	case kindOr:
		matched := false
		for _, child := range expr.Children {
			ok, err := en.evalExpr(child, data)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
			}
		}
		return matched, nil

	case kindNot:
		ok, err := en.evalExpr(expr.Child, data)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case kindCustom:
		return en.evaluateCustom(expr.Custom, data)

	default:
		return false, enginerr.Newf(enginerr.TypeRuleEvaluation, "unrecognized expression kind")
	}
}
