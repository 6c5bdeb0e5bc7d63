package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Context values are JSON-shaped: nil, bool, float64, string, []any and
// map[string]any. Normalize folds any other Go value into that set so that
// every runtime and every persisted snapshot sees the same representation.
// A map, slice or pointer that contains itself is cut at the back reference,
// which normalizes to nil.
func Normalize(v any) any {
	n := normalizer{}
	return n.value(v)
}

// NormalizeStrict is Normalize for values produced by user code. A value
// that contains itself fails with STEP_FAILED instead of being cut.
func NormalizeStrict(v any) (any, error) {
	n := normalizer{}
	out := n.value(v)
	if n.cyclic {
		return nil, NewError(ErrCodeStepFailed, "cyclic value")
	}
	return out, nil
}

// NormalizeMap normalizes every value of m into a fresh map.
func NormalizeMap(m map[string]any) map[string]any {
	n := normalizer{}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = n.value(v)
	}
	return out
}

type refKey struct {
	kind reflect.Kind
	ptr  uintptr
}

// normalizer tracks the containers on the current descent path.
type normalizer struct {
	path   map[refKey]bool
	cyclic bool
}

// enter marks rv as being on the descent path. It reports false when rv is
// already there.
func (n *normalizer) enter(rv reflect.Value) (refKey, bool) {
	key := refKey{kind: rv.Kind(), ptr: rv.Pointer()}
	if key.ptr == 0 {
		return key, true
	}
	if n.path == nil {
		n.path = make(map[refKey]bool)
	}
	if n.path[key] {
		n.cyclic = true
		return key, false
	}
	n.path[key] = true
	return key, true
}

func (n *normalizer) leave(key refKey) {
	delete(n.path, key)
}

func (n *normalizer) value(v any) any {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return string(t)
		}
		return decoded
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return []any{}
			}
			key, ok := n.enter(rv)
			if !ok {
				return nil
			}
			defer n.leave(key)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = n.value(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return normalizeViaJSON(v)
		}
		key, ok := n.enter(rv)
		if !ok {
			return nil
		}
		defer n.leave(key)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = n.value(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		key, ok := n.enter(rv)
		if !ok {
			return nil
		}
		defer n.leave(key)
		return n.value(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return n.value(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return normalizeViaJSON(v)
}

func normalizeViaJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return string(b)
	}
	return decoded
}

// DeepCopy returns a structural copy of a normalized value.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return t
	}
}

// DeepCopyMap returns a structural copy of m. A nil map copies to an empty one.
func DeepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// formatNumber renders integral floats without a fractional part.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatNumber renders a number the way it is spliced into expressions and logs.
func FormatNumber(f float64) string {
	return formatNumber(f)
}
