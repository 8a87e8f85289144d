package config

import (
	"fmt"
	"regexp"
)

// templatePattern matches `${field}` tokens.
var templatePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.-]*)\}`)

// interpolate substitutes every `${x}` occurrence in s with the string
// form of the top-level field x found in fields. References to unknown
// fields are left verbatim.
func interpolate(s string, fields map[string]any) string {
	return templatePattern.ReplaceAllStringFunc(s, func(token string) string {
		m := templatePattern.FindStringSubmatch(token)
		if len(m) < 2 {
			return token
		}
		val, ok := fields[m[1]]
		if !ok {
			return token
		}
		return stringify(val)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// interpolateValue walks a parsed YAML value (string/map/slice/scalar)
// and interpolates every string it finds.
func interpolateValue(v any, fields map[string]any) any {
	switch t := v.(type) {
	case string:
		return interpolate(t, fields)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = interpolateValue(val, fields)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = interpolateValue(val, fields)
		}
		return out
	default:
		return v
	}
}
