package rules

import (
	"testing"

	"github.com/rulekit/rulekit/enginerr"
)

func TestCustomExpressions(t *testing.T) {
	en := newTestEngine(t)
	data := map[string]any{
		"count":  "5",
		"price":  float64(99.5),
		"name":   "premium_widget",
		"scores": []any{float64(1), float64(2), float64(3)},
		"active": true,
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"string coerced to number", "context.count > 3", true},
		{"arithmetic", "context.price * 2.0 < 200.0", true},
		{"logical composition", "context.count > 3 && context.active", true},
		{"abs builtin", "abs(-5) == 5", true},
		{"round builtin", "round(context.price) == 100", true},
		{"sum over list", "sum(context.scores) == 6.0", true},
		{"min max pair", "min(3, 7) == 3.0 && max(3, 7) == 7.0", true},
		{"regex search", `regex_search("^prem", context.name)`, true},
		{"regex search miss", `regex_search("widget$$$x", context.name)`, false},
		{"size builtin", "size(context.scores) == 3", true},
		{"string match", `context.name.matches("premium.*")`, true},
		{"placeholder substitution", "{{count}} > 3", true},
		{"input alias", "input.count > 3", true},
		{"non-bool truthiness", "context.count", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := en.EvaluateExpression(CustomExpr(tt.src), data)
			if err != nil {
				t.Fatalf("EvaluateExpression(%q) failed: %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateExpression(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestCustomExpressionMissingKeyIsFalse(t *testing.T) {
	en := newTestEngine(t)

	// Referencing a key that was never resolved must degrade to false
	// rather than abort the whole rule set.
	got, err := en.EvaluateExpression(CustomExpr("context.missing <= 3"), map[string]any{"present": 1})
	if err != nil {
		t.Fatalf("missing key should not error, got %v", err)
	}
	if got {
		t.Error("missing key should evaluate to false")
	}
}

func TestCustomExpressionCompileError(t *testing.T) {
	en := newTestEngine(t)

	_, err := en.EvaluateExpression(CustomExpr("context.count >"), map[string]any{"count": 1})
	if err == nil {
		t.Fatal("malformed expression should fail")
	}
	if enginerr.TypeOf(err) != enginerr.TypeExpression {
		t.Errorf("error type = %q, want %q", enginerr.TypeOf(err), enginerr.TypeExpression)
	}
}

func TestCustomExpressionSandbox(t *testing.T) {
	en := newTestEngine(t)

	// Unregistered identifiers and functions must be rejected at compile
	// time, not looked up dynamically.
	for _, src := range []string{"os.getenv('HOME') != ''", "shutdown()", "import('x')"} {
		_, err := en.EvaluateExpression(CustomExpr(src), map[string]any{})
		if err == nil {
			t.Errorf("%q should be rejected", src)
		}
	}
}

func TestCustomProgramCache(t *testing.T) {
	en := newTestEngine(t)
	src := "context.n > 1"

	p1, err := en.compileCustom(src)
	if err != nil {
		t.Fatalf("compileCustom() failed: %v", err)
	}
	p2, err := en.compileCustom(src)
	if err != nil {
		t.Fatalf("compileCustom() failed on second call: %v", err)
	}
	if p1 != p2 {
		t.Error("second compile should return the cached program")
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"numeric string", "42", int64(42)},
		{"float string", "3.5", float64(3.5)},
		{"bool string", "true", true},
		{"plain string", "widget", "widget"},
		{"single element list", []any{"7"}, int64(7)},
		{"aggregate single-key map", map[string]any{"count": "9"}, int64(9)},
		{"non-aggregate single-key map kept", map[string]any{"name": "x"}, map[string]any{"name": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceValue(tt.in)
			switch want := tt.want.(type) {
			case map[string]any:
				gm, ok := got.(map[string]any)
				if !ok || len(gm) != len(want) {
					t.Fatalf("coerceValue() = %#v, want map %#v", got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("coerceValue() = %#v (%T), want %#v (%T)", got, got, tt.want, tt.want)
				}
			}
		})
	}
}

func TestTopLevelContextNeverUnwrapped(t *testing.T) {
	en := newTestEngine(t)

	// A single-key context must stay a map so context.count still resolves.
	got, err := en.EvaluateExpression(CustomExpr("context.count == 5"), map[string]any{"count": "5"})
	if err != nil {
		t.Fatalf("EvaluateExpression() failed: %v", err)
	}
	if !got {
		t.Error("single-key context lost its shape during coercion")
	}
}
