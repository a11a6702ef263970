package rules

import (
	"encoding/json"

	"github.com/rulekit/rulekit/enginerr"
)

type exprKind int

const (
	kindEmpty exprKind = iota
	kindComparison
	kindAnd
	kindOr
	kindNot
	kindCustom
)

// Expression is a closed variant: a structured field/operator/value
// comparison, a boolean composition over sub-expressions, or a custom
// expression string. Unknown forms are rejected at parse time.
type Expression struct {
	kind exprKind

	Field    string
	Operator string
	Value    any

	Children []*Expression // and / or
	Child    *Expression   // not
	Custom   string
}

// Comparison builds a structured comparison expression.
func Comparison(field, operator string, value any) *Expression {
	return &Expression{kind: kindComparison, Field: field, Operator: operator, Value: value}
}

// And composes sub-expressions conjunctively.
func And(children ...*Expression) *Expression {
	return &Expression{kind: kindAnd, Children: children}
}

// Or composes sub-expressions disjunctively.
func Or(children ...*Expression) *Expression {
	return &Expression{kind: kindOr, Children: children}
}

// Not negates a sub-expression.
func Not(child *Expression) *Expression {
	return &Expression{kind: kindNot, Child: child}
}

// CustomExpr wraps a custom expression string.
func CustomExpr(src string) *Expression {
	return &Expression{kind: kindCustom, Custom: src}
}

type expressionJSON struct {
	Field    *string       `json:"field,omitempty"`
	Operator *string       `json:"operator,omitempty"`
	Value    any           `json:"value,omitempty"`
	And      []*Expression `json:"and,omitempty"`
	Or       []*Expression `json:"or,omitempty"`
	Not      *Expression   `json:"not,omitempty"`
	Custom   *string       `json:"custom,omitempty"`
}

// UnmarshalJSON accepts either a plain string (treated as a custom
// expression) or the structured comparison / boolean-tree form.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Expression{kind: kindCustom, Custom: s}
		return nil
	}

	var raw expressionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return enginerr.Newf(enginerr.TypeValidation, "invalid expression: %v", err)
	}

	switch {
	case raw.Field != nil && raw.Operator != nil:
		*e = Expression{kind: kindComparison, Field: *raw.Field, Operator: *raw.Operator, Value: raw.Value}
	case raw.And != nil:
		*e = Expression{kind: kindAnd, Children: raw.And}
	case raw.Or != nil:
		*e = Expression{kind: kindOr, Children: raw.Or}
	case raw.Not != nil:
		*e = Expression{kind: kindNot, Child: raw.Not}
	case raw.Custom != nil:
		*e = Expression{kind: kindCustom, Custom: *raw.Custom}
	default:
		// An empty object evaluates to true; anything else with unknown
		// keys is malformed.
		var probe map[string]any
		if err := json.Unmarshal(data, &probe); err != nil {
			return enginerr.Newf(enginerr.TypeValidation, "invalid expression: %v", err)
		}
		if len(probe) != 0 {
			return enginerr.Newf(enginerr.TypeValidation, "unrecognized expression form")
		}
		*e = Expression{kind: kindEmpty}
	}
	return nil
}

func (e *Expression) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case kindComparison:
		return json.Marshal(map[string]any{
			"field":    e.Field,
			"operator": e.Operator,
			"value":    e.Value,
		})
	case kindAnd:
		return json.Marshal(map[string]any{"and": e.Children})
	case kindOr:
		return json.Marshal(map[string]any{"or": e.Children})
	case kindNot:
		return json.Marshal(map[string]any{"not": e.Child})
	case kindCustom:
		return json.Marshal(e.Custom)
	default:
		return []byte("{}"), nil
	}
}
