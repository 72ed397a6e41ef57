package form

import "reflect"

// Values is the loosely typed value tree addressed by field name. Snapshots
// handed to predicates, rules, and effects are clones; mutating them never
// leaks back into the runtime.
type Values map[string]any

// Clone returns a shallow copy of the value tree. Field values themselves are
// shared; the engine treats them as immutable once committed.
func (v Values) Clone() Values {
	if v == nil {
		return Values{}
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// ValueAs reads a field value with a concrete type, returning false when the
// field is absent or holds a different type. This is the narrow escape hatch
// for callers that want typed access into the dynamic tree.
func ValueAs[T any](values Values, name string) (T, bool) {
	var zero T
	raw, ok := values[name]
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// IsEmpty reports whether a value counts as empty under the engine's
// emptiness rule: nil, empty string, nil/empty slice, map, or array, and nil
// pointers or interfaces. Zero numbers and false are not empty.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
