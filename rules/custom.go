package rules

import (
	"math"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/placeholder"
	"github.com/rulekit/rulekit/resolver"
)

// newCustomEnv builds the restricted environment custom expressions run in:
// two read-only views named context and input, plus a fixed allow-list of
// functions on top of CEL's builtins (size, casts, matches, arithmetic).
// There is no assignment, no loops and no attribute access beyond key lookup
// on the two views.
func newCustomEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("context", cel.DynType),
		cel.Variable("input", cel.DynType),

		cel.Function("abs",
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					i := v.(types.Int)
					if i < 0 {
						return -i
					}
					return i
				})),
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Double(math.Abs(float64(v.(types.Double))))
				})),
		),

		cel.Function("round",
			cel.Overload("round_double", []*cel.Type{cel.DoubleType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Int(math.Round(float64(v.(types.Double))))
				})),
		),

		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					total, err := foldNumeric(v, 0, func(acc, f float64) float64 { return acc + f })
					if err != nil {
						return err
					}
					return types.Double(total)
				})),
		),

		cel.Function("min",
			cel.Overload("min_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					best, err := foldNumeric(v, math.Inf(1), math.Min)
					if err != nil {
						return err
					}
					return types.Double(best)
				})),
			cel.Overload("min_pair", []*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(numericPair(math.Min)),
			),
		),

		cel.Function("max",
			cel.Overload("max_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					best, err := foldNumeric(v, math.Inf(-1), math.Max)
					if err != nil {
						return err
					}
					return types.Double(best)
				})),
			cel.Overload("max_pair", []*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(numericPair(math.Max)),
			),
		),

		cel.Function("regex_search",
			cel.Overload("regex_search_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					p, ok := pattern.Value().(string)
					if !ok {
						return types.Bool(false)
					}
					target, ok := s.Value().(string)
					if !ok {
						return types.Bool(false)
					}
					re, err := regexp.Compile(p)
					if err != nil {
						return types.NewErr("regex_search: %v", err)
					}
					return types.Bool(re.MatchString(target))
				})),
		),
	)
}

func numericPair(fn func(a, b float64) float64) func(ref.Val, ref.Val) ref.Val {
	return func(a, b ref.Val) ref.Val {
		af, aok := toFloat(a.Value())
		bf, bok := toFloat(b.Value())
		if !aok || !bok {
			return types.NewErr("expected numeric operands")
		}
		return types.Double(fn(af, bf))
	}
}

func foldNumeric(v ref.Val, init float64, fn func(acc, f float64) float64) (float64, ref.Val) {
	lister, ok := v.(traits.Lister)
	if !ok {
		return 0, types.NewErr("expected a list")
	}
	acc := init
	it := lister.Iterator()
	for it.HasNext() == types.True {
		f, ok := toFloat(it.Next().Value())
		if !ok {
			return 0, types.NewErr("expected numeric list elements")
		}
		acc = fn(acc, f)
	}
	return acc, nil
}

// evaluateCustom substitutes placeholders against a coerced context/input
// view, compiles the expression (caching the program), and evaluates it.
// Missing-operand failures degrade to false; everything else surfaces as an
// expression evaluation error.
func (en *Engine) evaluateCustom(src string, data map[string]any) (bool, error) {
	// Coerce entries individually: the top-level context itself is never
	// unwrapped, only nested values are.
	coerced := make(map[string]any, len(data))
	for k, v := range data {
		coerced[k] = coerceValue(v)
	}
	inputView := any(coerced)
	if iv, ok := coerced["input"].(map[string]any); ok {
		inputView = iv
	}
	view := map[string]any{"context": coerced, "input": inputView}

	substituted := placeholder.Substitute(src, coerced)

	prog, err := en.compileCustom(substituted)
	if err != nil {
		return false, &enginerr.Error{
			Type:    enginerr.TypeExpression,
			Err:     err,
			Context: map[string]any{"expression": substituted},
		}
	}

	out, _, err := prog.Eval(view)
	if err != nil {
		if lenientEvalError(err) {
			return false, nil
		}
		return false, &enginerr.Error{
			Type:    enginerr.TypeExpression,
			Err:     err,
			Context: map[string]any{"expression": substituted},
		}
	}

	if b, ok := out.Value().(bool); ok {
		return b, nil
	}
	return truthy(out.Value()), nil
}

// compileCustom returns the cached program for the expression, compiling on
// first use. The cost limit guards against runaway expressions.
func (en *Engine) compileCustom(src string) (cel.Program, error) {
	en.mu.RLock()
	prog, ok := en.programs[src]
	en.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := en.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prog, err := en.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1000000),
	)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	en.programs[src] = prog
	en.mu.Unlock()

	return prog, nil
}

// lenientEvalError reports whether the evaluation failure is the
// missing-or-null-operand kind that deliberately degrades to false, so that
// absent optional data never blocks a rule by accident.
func lenientEvalError(err error) bool {
	msg := err.Error()
	for _, phrase := range []string{
		"no such key",
		"no such attribute",
		"no such overload",
		"no matching overload",
		"unsupported index type",
		"index out of range",
	} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// aggregateKeys are the single-key mapping names unwrapped to their scalar
// during coercion, so that `SELECT COUNT(*) AS count` style rows compare
// directly.
var aggregateKeys = map[string]bool{
	"id": true, "count": true, "sum": true, "avg": true,
	"max": true, "min": true, "total": true, "value": true, "result": true,
}

// coerceValue prepares context values for custom expressions: string scalars
// are opportunistically typed, single-element sequences are unwrapped, and
// single-key aggregate rows collapse to their scalar.
func coerceValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = coerceValue(item)
		}
		if len(out) == 1 {
			for k, item := range out {
				if aggregateKeys[k] {
					return item
				}
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = coerceValue(item)
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	case string:
		return resolver.CoerceScalar(t)
	default:
		return v
	}
}
