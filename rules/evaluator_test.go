package rules

import (
	"testing"

	"github.com/rulekit/rulekit/resolver"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	en, err := NewEngine(resolver.New("", ""))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return en
}

func TestComparisonOperators(t *testing.T) {
	en := newTestEngine(t)
	data := map[string]any{
		"product": map[string]any{"price": float64(100), "name": "Widget Pro"},
		"tags":    []any{"a", "b"},
		"empty":   "",
	}

	tests := []struct {
		name string
		expr *Expression
		want bool
	}{
		{"eq true", Comparison("product.price", "eq", float64(100)), true},
		{"eq int vs float", Comparison("product.price", "eq", 100), true},
		{"ne", Comparison("product.price", "ne", float64(5)), true},
		{"lt", Comparison("product.price", "lt", float64(200)), true},
		{"le boundary", Comparison("product.price", "<=", float64(100)), true},
		{"gt symbol", Comparison("product.price", ">", float64(99)), true},
		{"ge symbol", Comparison("product.price", ">=", float64(100)), true},
		{"gt false", Comparison("product.price", "gt", float64(100)), false},
		{"in list", Comparison("product.name", "in", []any{"Widget Pro", "Other"}), true},
		{"not_in list", Comparison("product.name", "not_in", []any{"Other"}), true},
		{"contains substring", Comparison("product.name", "contains", "Pro"), true},
		{"not_contains", Comparison("product.name", "not_contains", "XL"), true},
		{"contains in slice", Comparison("tags", "contains", "b"), true},
		{"startswith", Comparison("product.name", "startswith", "Widget"), true},
		{"endswith", Comparison("product.name", "endswith", "Pro"), true},
		{"regex partial match", Comparison("product.name", "regex", `W.dget`), true},
		{"regex no match", Comparison("product.name", "regex", `^Pro`), false},
		{"is_null on missing field", Comparison("product.color", "is_null", nil), true},
		{"is_not_null", Comparison("product.name", "is_not_null", nil), true},
		{"is_empty", Comparison("empty", "is_empty", nil), true},
		{"is_not_empty", Comparison("product.name", "is_not_empty", nil), true},
		{"string ordering", Comparison("product.name", "lt", "Z"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := en.EvaluateExpression(tt.expr, data)
			if err != nil {
				t.Fatalf("EvaluateExpression() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateExpression() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnknownOperatorIsHardError(t *testing.T) {
	en := newTestEngine(t)

	_, err := en.EvaluateExpression(Comparison("a", "resembles", 1), map[string]any{"a": 1})
	if err == nil {
		t.Fatal("EvaluateExpression() should fail for unknown operators, not return false")
	}
}

func TestNonStringOperandEvaluatesFalse(t *testing.T) {
	en := newTestEngine(t)
	data := map[string]any{"count": float64(5)}

	for _, op := range []string{"contains", "startswith", "endswith", "regex"} {
		got, err := en.EvaluateExpression(Comparison("count", op, "5"), data)
		if err != nil {
			t.Errorf("%s on non-string should not error, got %v", op, err)
		}
		if got {
			t.Errorf("%s on non-string = true, want false", op)
		}
	}
}

func TestBooleanComposition(t *testing.T) {
	en := newTestEngine(t)
	data := map[string]any{"a": float64(1), "b": float64(2)}

	tests := []struct {
		name string
		expr *Expression
		want bool
	}{
		{
			"and both true",
			And(Comparison("a", "eq", float64(1)), Comparison("b", "eq", float64(2))),
			true,
		},
		{
			"and one false",
			And(Comparison("a", "eq", float64(1)), Comparison("b", "eq", float64(3))),
			false,
		},
		{
			"or one true",
			Or(Comparison("a", "eq", float64(9)), Comparison("b", "eq", float64(2))),
			true,
		},
		{
			"or none true",
			Or(Comparison("a", "eq", float64(9)), Comparison("b", "eq", float64(9))),
			false,
		},
		{
			"not",
			Not(Comparison("a", "eq", float64(9))),
			true,
		},
		{
			"nested",
			And(Or(Comparison("a", "eq", float64(1)), Comparison("a", "eq", float64(9))), Not(Comparison("b", "eq", float64(9)))),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := en.EvaluateExpression(tt.expr, data)
			if err != nil {
				t.Fatalf("EvaluateExpression() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateExpression() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompositionPropagatesFirstError(t *testing.T) {
	en := newTestEngine(t)
	data := map[string]any{"a": float64(1)}

	// The second child carries an unknown operator; its error must become
	// the composite's error even though the first child already failed.
	expr := And(
		Comparison("a", "eq", float64(9)),
		Comparison("a", "bogus_op", float64(1)),
	)
	if _, err := en.EvaluateExpression(expr, data); err == nil {
		t.Fatal("composite should propagate the child error")
	}

	// not propagates sub-errors unchanged.
	if _, err := en.EvaluateExpression(Not(Comparison("a", "bogus_op", 1)), data); err == nil {
		t.Fatal("not should propagate the child error")
	}
}

func TestNilAndEmptyExpressionsPass(t *testing.T) {
	en := newTestEngine(t)

	got, err := en.EvaluateExpression(nil, map[string]any{})
	if err != nil || !got {
		t.Errorf("nil expression = (%v, %v), want (true, nil)", got, err)
	}

	got, err = en.EvaluateExpression(&Expression{}, map[string]any{})
	if err != nil || !got {
		t.Errorf("empty expression = (%v, %v), want (true, nil)", got, err)
	}
}
