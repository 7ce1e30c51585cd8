package core

import "reflect"

// SanitizeMetadata returns a copy of metadata holding only values a vector
// index can store as attributes. Primitives pass through, nil becomes
// NoneValue, named primitive types are unwrapped, and anything structured is
// dropped. It never panics.
func SanitizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if isNil(value) {
			out[key] = NoneValue
			continue
		}
		switch value.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[key] = value
		default:
			if v, ok := primitive(reflect.ValueOf(value)); ok {
				out[key] = v
			}
		}
	}
	return out
}

// primitive unwraps named types such as json.Number to their builtin kind.
func primitive(rv reflect.Value) (any, bool) {
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return nil, false
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
