package rules

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/rulekit/rulekit/enginerr"
)

type opFunc func(actual, expected any) (bool, error)

// operators is the fixed comparison table. Symbolic aliases map onto the
// word forms. Unknown operators are a hard evaluation error, never a silent
// false.
var operators map[string]opFunc

func init() {
	operators = map[string]opFunc{
		"eq": opEq,
		"ne": func(a, e any) (bool, error) { ok, err := opEq(a, e); return !ok, err },
		"lt": orderOp(func(c int) bool { return c < 0 }),
		"le": orderOp(func(c int) bool { return c <= 0 }),
		"gt": orderOp(func(c int) bool { return c > 0 }),
		"ge": orderOp(func(c int) bool { return c >= 0 }),

		"in":     opIn,
		"not_in": func(a, e any) (bool, error) { ok, err := opIn(a, e); return !ok, err },

		// contains tests value-in-actual, the reverse direction of in.
		"contains":     opContains,
		"not_contains": func(a, e any) (bool, error) { ok, err := opContains(a, e); return !ok, err },

		"startswith": stringOp(strings.HasPrefix),
		"endswith":   stringOp(strings.HasSuffix),
		"regex":      opRegex,

		"is_null":      unaryOp(func(a any) bool { return a == nil }),
		"is_not_null":  unaryOp(func(a any) bool { return a != nil }),
		"is_empty":     unaryOp(func(a any) bool { return !truthy(a) }),
		"is_not_empty": unaryOp(truthy),
	}

	aliases := map[string]string{
		"==": "eq", "!=": "ne",
		"<": "lt", "<=": "le",
		">": "gt", ">=": "ge",
	}
	for alias, name := range aliases {
		operators[alias] = operators[name]
	}
}

// applyOperator evaluates one operator against the actual and expected
// values.
func applyOperator(op string, actual, expected any) (bool, error) {
	fn, ok := operators[op]
	if !ok {
		return false, enginerr.Newf(enginerr.TypeRuleEvaluation, "unknown operator: %s", op)
	}
	return fn(actual, expected)
}

func opEq(actual, expected any) (bool, error) {
	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(expected); eok {
			return af == ef, nil
		}
	}
	return reflect.DeepEqual(actual, expected), nil
}

// orderOp builds an ordered comparison. Numbers compare numerically, strings
// lexically; mixed or nil operands evaluate to false rather than erroring so
// missing optional data never blocks by accident.
func orderOp(cmp func(int) bool) opFunc {
	return func(actual, expected any) (bool, error) {
		if af, aok := toFloat(actual); aok {
			if ef, eok := toFloat(expected); eok {
				return cmp(compareFloats(af, ef)), nil
			}
		}
		as, aok := actual.(string)
		es, eok := expected.(string)
		if aok && eok {
			return cmp(strings.Compare(as, es)), nil
		}
		return false, nil
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func opIn(actual, expected any) (bool, error) {
	switch e := expected.(type) {
	case []any:
		for _, item := range e {
			if ok, _ := opEq(actual, item); ok {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(e, s), nil
	default:
		return false, nil
	}
}

func opContains(actual, expected any) (bool, error) {
	switch a := actual.(type) {
	case string:
		s, ok := expected.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(a, s), nil
	case []any:
		for _, item := range a {
			if ok, _ := opEq(item, expected); ok {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false, nil
		}
		_, found := a[key]
		return found, nil
	default:
		return false, nil
	}
}

func stringOp(fn func(s, affix string) bool) opFunc {
	return func(actual, expected any) (bool, error) {
		a, aok := actual.(string)
		e, eok := expected.(string)
		if !aok || !eok {
			return false, nil
		}
		return fn(a, e), nil
	}
}

// opRegex uses search semantics: an unanchored partial match succeeds.
func opRegex(actual, expected any) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, nil
	}
	a, ok := actual.(string)
	if !ok {
		return false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, enginerr.Newf(enginerr.TypeRuleEvaluation, "invalid regex %q: %v", pattern, err)
	}
	return re.MatchString(a), nil
}

func unaryOp(fn func(any) bool) opFunc {
	return func(actual, _ any) (bool, error) {
		return fn(actual), nil
	}
}

// truthy mirrors loose boolean coercion: nil, empty strings, zero numbers
// and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
