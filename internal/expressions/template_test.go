package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]any{
		"name":  "nodeflow",
		"count": 3.0,
		"list":  []any{1.0, 2.0},
		"nil":   nil,
	}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"exact placeholder", "{{name}}", "nodeflow"},
		{"inner whitespace", "{{  count }}", 3.0},
		{"non-string value preserved", "{{list}}", []any{1.0, 2.0}},
		{"bound nil", "{{nil}}", nil},
		{"unknown name is literal", "{{missing}}", "{{missing}}"},
		{"mixed text untouched", "hello {{name}}", "hello {{name}}"},
		{"two placeholders untouched", "{{name}}{{count}}", "{{name}}{{count}}"},
		{"outer whitespace untouched", " {{name}}", " {{name}}"},
		{"plain string", "name", "name"},
		{"number passes through", 42.0, 42.0},
		{"map passes through", map[string]any{"a": "{{name}}"}, map[string]any{"a": "{{name}}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.value, vars))
		})
	}
}

func TestSubstituteMap(t *testing.T) {
	out := SubstituteMap(map[string]any{"a": "{{x}}", "b": "lit", "c": 1.0}, map[string]any{"x": true})
	assert.Equal(t, map[string]any{"a": true, "b": "lit", "c": 1.0}, out)
}

func TestReplacePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		text string
		vars map[string]any
		want string
	}{
		{"number", "{{x}} > 3", map[string]any{"x": 5.0}, "5 > 3"},
		{"float", "{{x}} > 3", map[string]any{"x": 2.5}, "2.5 > 3"},
		{"string raw", `"{{s}}" == "go"`, map[string]any{"s": "go"}, `"go" == "go"`},
		{"bool", "{{b}} && true", map[string]any{"b": false}, "false && true"},
		{"nil", "{{n}} == nil", map[string]any{"n": nil}, "nil == nil"},
		{"array as json", "1 in {{xs}}", map[string]any{"xs": []any{1.0, 2.0}}, "1 in [1,2]"},
		{"every occurrence", "{{a}} + {{a}}", map[string]any{"a": 1.0}, "1 + 1"},
		{"unknown key left", "{{zz}} > 1", map[string]any{"a": 1.0}, "{{zz}} > 1"},
		{"whitespace form not replaced", "{{ a }} > 1", map[string]any{"a": 1.0}, "{{ a }} > 1"},
		{"no recursion", "{{a}}", map[string]any{"a": "{{b}}", "b": "x"}, "{{b}}"},
		{"no vars", "{{a}}", nil, "{{a}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplacePlaceholders(tt.text, tt.vars))
		})
	}
}

func TestReplacePlaceholders_LongestKeyWins(t *testing.T) {
	vars := map[string]any{"a": "short", "a}": "long"}
	assert.Equal(t, "long", ReplacePlaceholders("{{a}}}", vars))
}

func TestReplacePlaceholders_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,4}`), 1, 6, rapid.ID[string]).Draw(t, "keys")
		vars := make(map[string]any, len(keys))
		text := ""
		for i, k := range keys {
			vars[k] = float64(i)
			text += "{{" + k + "}} "
		}
		first := ReplacePlaceholders(text, vars)
		for i := 0; i < 5; i++ {
			if got := ReplacePlaceholders(text, vars); got != first {
				t.Fatalf("replacement not deterministic: %q vs %q", got, first)
			}
		}
	})
}

func TestStringForm(t *testing.T) {
	assert.Equal(t, "7", StringForm(7))
	assert.Equal(t, "0.5", StringForm(0.5))
	assert.Equal(t, "true", StringForm(true))
	assert.Equal(t, "nil", StringForm(nil))
	assert.Equal(t, "abc", StringForm("abc"))
	assert.Equal(t, `{"k":"v"}`, StringForm(map[string]any{"k": "v"}))
}
