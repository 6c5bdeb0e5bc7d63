package expressions

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// placeholderRe matches a string that is exactly one {{ name }} placeholder.
var placeholderRe = regexp.MustCompile(`^\{\{\s*([^{}\s]+)\s*\}\}$`)

// PlaceholderName returns the name inside a whole-string placeholder.
func PlaceholderName(s string) (string, bool) {
	m := placeholderRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Substitute resolves a whole-string placeholder against vars. Strings that
// are not a single placeholder, placeholders naming an unbound variable and
// non-string values are returned unchanged.
func Substitute(value any, vars map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	name, ok := PlaceholderName(s)
	if !ok {
		return value
	}
	if bound, found := vars[name]; found {
		return bound
	}
	return value
}

// SubstituteMap applies Substitute to every top-level value of m.
func SubstituteMap(m map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Substitute(v, vars)
	}
	return out
}

// ReplacePlaceholders replaces every literal {{key}} in text with the string
// form of vars[key]. The text is scanned once, so a replacement that itself
// contains placeholder syntax is left as is. When two placeholders start at
// the same offset the longer key wins; keys of equal length are ordered
// lexically.
func ReplacePlaceholders(text string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", StringForm(vars[k]))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// StringForm renders a context value the way it is spliced into text:
// integral numbers without a fraction, strings raw, nil as nil, and
// arrays/objects as JSON.
func StringForm(v any) string {
	switch t := schema.Normalize(v).(type) {
	case nil:
		return "nil"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return schema.FormatNumber(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
