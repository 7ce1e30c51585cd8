package storage

import (
	"fmt"
	"strconv"
)

// StringMetadata flattens sanitized metadata into string attributes for
// backends that only store strings. Booleans become "true"/"false" and
// numbers use their shortest decimal form.
func StringMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		switch v := value.(type) {
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case float32:
			out[key] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		case float64:
			out[key] = strconv.FormatFloat(v, 'g', -1, 64)
		case nil:
			continue
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

// AnyMetadata widens string attributes back into the map type the rest of
// the system uses. Values stay strings.
func AnyMetadata(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
