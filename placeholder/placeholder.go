// Package placeholder rewrites {{path.to.value}} tokens inside strings and
// nested structures using dotted-path lookups against a context map.
//
// Unresolvable tokens are left verbatim so that broken references stay
// visible to whoever authored the rule set.
package placeholder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Substitute replaces every {{a.b.c}} token in text with the value found at
// that dotted path in context. Tokens that do not resolve are kept as-is.
func Substitute(text string, context map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		token := rest[start : end+2]
		path := strings.TrimSpace(rest[start+2 : end])

		if value, ok := resolve(path, context); ok {
			b.WriteString(stringify(value))
		} else {
			b.WriteString(token)
		}
		rest = rest[end+2:]
	}
	return b.String()
}

// SubstituteAny applies Substitute recursively through maps and slices.
// Used for bulk substitution over request headers, params and bodies.
func SubstituteAny(value any, context map[string]any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = SubstituteAny(item, context)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SubstituteAny(item, context)
		}
		return out
	case string:
		return Substitute(v, context)
	default:
		return value
	}
}

// Lookup resolves a dotted path against data. Numeric segments index into
// slices. The second return value reports whether the full path resolved.
func Lookup(path string, data any) (any, bool) {
	if path == "" {
		return nil, false
	}
	value := data
	for _, part := range strings.Split(path, ".") {
		switch v := value.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			value = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			value = v[idx]
		default:
			return nil, false
		}
	}
	return value, true
}

// resolve applies the token resolution order: an "input"-prefixed path
// descends into the context's "input" entry when present, otherwise the path
// (with an optional "context." or "input." prefix stripped) is resolved
// against the top-level context.
func resolve(path string, context map[string]any) (any, bool) {
	parts := strings.SplitN(path, ".", 2)

	if parts[0] == "input" {
		if input, ok := context["input"]; ok {
			if len(parts) == 1 {
				return input, true
			}
			return Lookup(parts[1], input)
		}
	}

	stripped := strings.TrimPrefix(strings.TrimPrefix(path, "context."), "input.")
	if v, ok := Lookup(stripped, context); ok {
		return v, true
	}
	return Lookup(path, context)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}
